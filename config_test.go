package glow

import "testing"

var confValidity = []struct {
	conf  Config
	valid bool
}{
	{Config{Channels: 3, Depth: 1}, true},
	{Config{Channels: 1, Depth: 1}, true},
	{Config{Channels: 3, Depth: 4, UseLU: true}, true},
	{Config{Channels: 0, Depth: 1}, false},
	{Config{Channels: -1, Depth: 1}, false},
	{Config{Channels: 3, Depth: 0}, false},
}

func TestConfigIsValid(t *testing.T) {
	for _, c := range confValidity {
		if got := c.conf.IsValid(); got != c.valid {
			t.Errorf("%+v: IsValid() = %v, want %v", c.conf, got, c.valid)
		}
	}
}

func TestDefaultConf(t *testing.T) {
	if !DefaultConf(4).IsValid() {
		t.Errorf("Expected Default Config to be correct")
	}
}
