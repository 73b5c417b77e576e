// Package profile loads per-channel bitrate/mode configuration from an
// ini-format profile file, so a device with several channels can be
// brought up from one file instead of per-channel flags. Parsed with
// gopkg.in/ini.v1, one `[channelN]` section per channel.
package profile

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// Channel is one channel's worth of profile settings.
type Channel struct {
	Index         uint8
	Bitrate       int
	FD            bool
	DataBitrate   int
	DriverMode    string // "normal" or "silent"
}

// Profile is a parsed device profile: one Channel entry per
// configured `[channelN]` section.
type Profile struct {
	DeviceName string
	Channels   []Channel
}

// Load parses an ini profile file. file may be a path, []byte, or any
// source gopkg.in/ini.v1 accepts.
func Load(file any) (*Profile, error) {
	cfg, err := ini.Load(file)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}

	p := &Profile{}
	if general := cfg.Section("device"); general != nil {
		p.DeviceName = general.Key("name").MustString("")
	}

	for _, section := range cfg.Sections() {
		var idx uint8
		n, err := fmt.Sscanf(section.Name(), "channel%d", &idx)
		if err != nil || n != 1 {
			continue
		}
		ch := Channel{
			Index:       idx,
			Bitrate:     section.Key("bitrate").MustInt(500000),
			FD:          section.Key("fd").MustBool(false),
			DataBitrate: section.Key("data_bitrate").MustInt(2000000),
			DriverMode:  section.Key("mode").MustString("normal"),
		}
		p.Channels = append(p.Channels, ch)
	}
	return p, nil
}

// Channel returns the parsed settings for a given channel index, or
// false if the profile doesn't mention it.
func (p *Profile) Channel(index uint8) (Channel, bool) {
	for _, ch := range p.Channels {
		if ch.Index == index {
			return ch, true
		}
	}
	return Channel{}, false
}
