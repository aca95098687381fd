package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const DefaultTimeout = 10 * time.Second

// Duration accepts either a Go duration string ("1500ms", "10s") or a number
// of milliseconds, which is how JavaScript callers usually write timeouts.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		if x < 0 {
			return fmt.Errorf("negative duration %v", x)
		}
		*d = Duration(time.Duration(x * float64(time.Millisecond)))
	case string:
		p, err := time.ParseDuration(x)
		if err != nil {
			return err
		}
		if p < 0 {
			return fmt.Errorf("negative duration %q", x)
		}
		*d = Duration(p)
	case nil:
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Options are the settings a script passes to the Client constructor.
type Options struct {
	URL        string   `json:"url,omitempty"`
	Timeout    Duration `json:"timeout,omitempty"`
	Eager      bool     `json:"eager,omitempty"`
	Metrics    *bool    `json:"metrics,omitempty"`
	Extrinsics string   `json:"extrinsics,omitempty"`
}

// ParseOptions validates and instantiates Options from their map
// representation as exported by the JS runtime. Unknown keys are rejected.
// A missing url falls back to SUBSTRATE_URL.
func ParseOptions(argument map[string]interface{}) (Options, error) {
	var opts Options
	raw, err := json.Marshal(argument)
	if err != nil {
		return opts, fmt.Errorf("unable to serialize options to JSON: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&opts); err != nil {
		return opts, fmt.Errorf("unable to decode options: %w", err)
	}

	if opts.URL == "" {
		opts.URL = os.Getenv("SUBSTRATE_URL")
	}
	if opts.URL == "" {
		return opts, fmt.Errorf("url is required (or set SUBSTRATE_URL)")
	}
	if opts.Timeout == 0 {
		opts.Timeout = Duration(DefaultTimeout)
	}
	switch opts.Extrinsics {
	case "":
		opts.Extrinsics = "decode"
	case "decode", "raw":
	default:
		return opts, fmt.Errorf("extrinsics must be \"decode\" or \"raw\", got %q", opts.Extrinsics)
	}
	return opts, nil
}

// MetricsEnabled defaults to true.
func (o Options) MetricsEnabled() bool { return o.Metrics == nil || *o.Metrics }

func (o Options) TimeoutDuration() time.Duration { return time.Duration(o.Timeout) }
