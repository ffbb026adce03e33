package glow

// Config configures the construction of a flow
type Config struct {
	Channels int  // channel count that every transform in the flow shares
	Depth    int  // number of (ActNorm, InvConv) step pairs
	UseLU    bool // hold the mixing weights in permuted LU form
}

func DefaultConf(channels int) Config {
	return Config{
		Channels: channels,
		Depth:    1,
	}
}

func (conf Config) IsValid() bool {
	return conf.Channels >= 1 &&
		conf.Depth >= 1
}
