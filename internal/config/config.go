package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"github.com/speters/xcomd/pkg/xcom"
)

// Config holds the settings of the xcomd daemon
type Config struct {
	Link     string
	Baud     int
	Parity   serial.Parity
	Timeout  time.Duration
	Cache    time.Duration
	Listen   string
	Bridge   string
	LogLevel log.Level
	Entries  []xcom.Entry
}

type fileConfig struct {
	Link      string            `toml:"link"`
	Baud      int               `toml:"baud"`
	Parity    string            `toml:"parity"`
	Timeout   string            `toml:"timeout"`
	Cache     string            `toml:"cache"`
	Listen    string            `toml:"listen"`
	Bridge    string            `toml:"bridge"`
	LogLevel  string            `toml:"log_level"`
	Datapoint []datapointConfig `toml:"datapoint"`
}

type datapointConfig struct {
	Name     string `toml:"name"`
	ID       uint32 `toml:"id"`
	Type     string `toml:"type"`
	Unit     string `toml:"unit"`
	Dst      uint32 `toml:"dst"`
	Property string `toml:"property"`
	Object   string `toml:"object"`
}

// Default returns the configuration used for keys missing in the file
func Default() Config {
	return Config{
		Baud:     xcom.DefaultBaud,
		Parity:   serial.ParityNone,
		Timeout:  xcom.DefaultTimeout,
		LogLevel: log.InfoLevel,
	}
}

// Load reads a TOML config file on top of Default()
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		log.Warnf("Ignoring unknown config keys %v in %s", undecoded, path)
	}
	return build(meta, raw)
}

// Parse reads a TOML config from a string, mainly for tests
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return build(meta, raw)
}

func build(meta toml.MetaData, raw fileConfig) (Config, error) {
	cfg := Default()

	if meta.IsDefined("link") {
		cfg.Link = strings.TrimSpace(raw.Link)
	}
	if meta.IsDefined("baud") {
		if raw.Baud <= 0 {
			return Config{}, fmt.Errorf("baud must be positive, got %d", raw.Baud)
		}
		cfg.Baud = raw.Baud
	}
	if meta.IsDefined("parity") {
		p, err := parseParity(raw.Parity)
		if err != nil {
			return Config{}, err
		}
		cfg.Parity = p
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if meta.IsDefined("cache") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Cache))
		if err != nil {
			return Config{}, fmt.Errorf("parse cache: %w", err)
		}
		cfg.Cache = d
	}
	if meta.IsDefined("listen") {
		cfg.Listen = NormalizeListen(raw.Listen)
	}
	if meta.IsDefined("bridge") {
		cfg.Bridge = NormalizeListen(raw.Bridge)
	}
	if meta.IsDefined("log_level") {
		l, err := log.ParseLevel(strings.TrimSpace(raw.LogLevel))
		if err != nil {
			return Config{}, fmt.Errorf("parse log_level: %w", err)
		}
		cfg.LogLevel = l
	}

	seen := map[string]bool{}
	for i, d := range raw.Datapoint {
		e, err := d.entry()
		if err != nil {
			return Config{}, fmt.Errorf("datapoint %d (%s): %w", i, d.Name, err)
		}
		if seen[e.Name] {
			return Config{}, fmt.Errorf("datapoint %d: duplicate name %q", i, e.Name)
		}
		seen[e.Name] = true
		cfg.Entries = append(cfg.Entries, e)
	}
	return cfg, nil
}

func (d datapointConfig) entry() (xcom.Entry, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		name = strconv.FormatUint(uint64(d.ID), 10)
	}
	t, err := xcom.ParseDataType(strings.TrimSpace(d.Type))
	if err != nil {
		return xcom.Entry{}, err
	}

	e := xcom.Entry{
		Datapoint: xcom.NewDatapoint(d.ID, t, name, d.Unit),
		Dst:       xcom.AddrAllXT,
		Property:  xcom.PropertyUnsavedValue,
	}
	if d.Dst != 0 {
		e.Dst = xcom.Address(d.Dst)
	}
	if p := strings.TrimSpace(d.Property); p != "" {
		if e.Property, err = xcom.ParsePropertyID(p); err != nil {
			return xcom.Entry{}, err
		}
	}
	switch strings.TrimSpace(d.Object) {
	case "":
	case "info":
		e.Datapoint.ObjectType = xcom.ObjectInfo
	case "parameter":
		e.Datapoint.ObjectType = xcom.ObjectParameter
	default:
		return xcom.Entry{}, fmt.Errorf("unknown object type %q", d.Object)
	}
	return e, nil
}

func parseParity(s string) (serial.Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "n":
		return serial.ParityNone, nil
	case "even", "e":
		return serial.ParityEven, nil
	case "odd", "o":
		return serial.ParityOdd, nil
	}
	return 0, fmt.Errorf("unknown parity %q", s)
}

// NormalizeListen accepts :[portnum] as well as [portnum]
func NormalizeListen(s string) string {
	s = strings.TrimSpace(s)
	if i, err := strconv.Atoi(s); err == nil {
		return fmt.Sprintf(":%d", i)
	}
	return s
}
