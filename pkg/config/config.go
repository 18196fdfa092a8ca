// Package config loads client/server timing defaults and CAN addressing
// from an INI file, repurposing the teacher's EDS/object-dictionary
// parser (od_parser.go's gopkg.in/ini.v1 use) for this module's much
// smaller [timing]/[isotp]/[addressing] schema.
package config

import (
	"fmt"

	"gopkg.in/ini.v1"

	"github.com/diagstack/govuds/pkg/isotp"
	"github.com/diagstack/govuds/pkg/udsserver"
)

// Config is the demo binaries' view of an INI file: timing parameters for
// the client/server cores, the ISO-TP link policy, and the CAN IDs used
// to address one ECU.
type Config struct {
	P2Ms               uint32
	P2StarMs           uint32
	S3Ms               uint32
	PowerDownMs        uint32
	SecurityBootMs     uint32
	SecurityAuthFailMs uint32
	MTU                int

	ISOTP isotp.Config

	PhysicalRequestID  uint32
	PhysicalResponseID uint32
	FunctionalRequestID uint32
}

// Load reads path and fills in any timing or ISO-TP field left unset with
// the matching udsserver/isotp package default. Unset CAN IDs default to
// 0x7E0 (physical request), 0x7E8 (physical response) and 0x7DF
// (functional request); ISOTP.MTU always follows the [timing] mtu value.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	srvDefault := udsserver.DefaultConfig()
	isotpDefault := isotp.DefaultConfig()
	cfg := &Config{
		P2Ms:               srvDefault.P2Ms,
		P2StarMs:           srvDefault.P2StarMs,
		S3Ms:               srvDefault.S3Ms,
		PowerDownMs:        srvDefault.PowerDownMs,
		SecurityBootMs:     srvDefault.SecurityBootMs,
		SecurityAuthFailMs: srvDefault.SecurityAuthFailMs,
		MTU:                srvDefault.MTU,
		ISOTP:              isotpDefault,
	}

	timing := f.Section("timing")
	cfg.P2Ms = keyUint32(timing, "p2_ms", cfg.P2Ms)
	cfg.P2StarMs = keyUint32(timing, "p2_star_ms", cfg.P2StarMs)
	cfg.S3Ms = keyUint32(timing, "s3_ms", cfg.S3Ms)
	cfg.PowerDownMs = keyUint32(timing, "power_down_time_ms", cfg.PowerDownMs)
	cfg.SecurityBootMs = keyUint32(timing, "security_boot_delay_ms", cfg.SecurityBootMs)
	cfg.SecurityAuthFailMs = keyUint32(timing, "security_auth_fail_delay_ms", cfg.SecurityAuthFailMs)
	cfg.MTU = int(keyUint32(timing, "mtu", uint32(cfg.MTU)))

	isotpSec := f.Section("isotp")
	cfg.ISOTP.DefaultResponseTimeoutMs = keyUint32(isotpSec, "n_bs_timeout_ms", cfg.ISOTP.DefaultResponseTimeoutMs)
	cfg.ISOTP.BlockSize = uint8(keyUint32(isotpSec, "block_size", uint32(cfg.ISOTP.BlockSize)))
	cfg.ISOTP.STminUs = keyUint32(isotpSec, "stmin_us", cfg.ISOTP.STminUs)
	cfg.ISOTP.MaxWaitFrames = int(keyUint32(isotpSec, "max_wait_frames", uint32(cfg.ISOTP.MaxWaitFrames)))
	cfg.ISOTP.MTU = cfg.MTU

	addr := f.Section("addressing")
	cfg.PhysicalRequestID = keyUint32(addr, "physical_request_id", 0x7E0)
	cfg.PhysicalResponseID = keyUint32(addr, "physical_response_id", 0x7E8)
	cfg.FunctionalRequestID = keyUint32(addr, "functional_request_id", 0x7DF)

	return cfg, nil
}

// ServerConfig narrows cfg to the udsserver.Config shape.
func (c *Config) ServerConfig() udsserver.Config {
	return udsserver.Config{
		P2Ms:               c.P2Ms,
		P2StarMs:           c.P2StarMs,
		S3Ms:               c.S3Ms,
		PowerDownMs:        c.PowerDownMs,
		SecurityBootMs:     c.SecurityBootMs,
		SecurityAuthFailMs: c.SecurityAuthFailMs,
		MTU:                c.MTU,
	}
}

func keyUint32(s *ini.Section, key string, def uint32) uint32 {
	if !s.HasKey(key) {
		return def
	}
	v, err := s.Key(key).Uint()
	if err != nil {
		return def
	}
	return uint32(v)
}
