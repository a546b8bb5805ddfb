package stdio

// Option configures a process transport.
type Option func(c *Client)

// WithArguments sets the command arguments.
func WithArguments(args ...string) Option {
	return func(c *Client) {
		c.args = args
	}
}

// WithEnv sets extra environment entries. Each entry is either "KEY", copied from the
// bridge environment when present, or an explicit "KEY=value".
func WithEnv(env ...string) Option {
	return func(c *Client) {
		c.env = env
	}
}

// WithDir sets the working directory of the process.
func WithDir(dir string) Option {
	return func(c *Client) {
		c.dir = dir
	}
}

// WithStderr registers a callback receiving every stderr line of the process.
func WithStderr(fn func(line string)) Option {
	return func(c *Client) {
		c.onStderr = fn
	}
}
