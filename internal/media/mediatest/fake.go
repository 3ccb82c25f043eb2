// Package mediatest provides a fake command Runner so pipeline stages can
// be exercised without ffmpeg installed.
package mediatest

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Call records one external-engine invocation.
type Call struct {
	Name string
	Args []string
}

// FakeRunner implements media.Runner. By default a "probe" call answers
// with ProbeJSON and an "encode" call creates its output file (the last
// argument) so filesystem-based stage checks behave like the real engine.
type FakeRunner struct {
	mu    sync.Mutex
	calls []Call

	// Probe describes the media every ffprobe call reports.
	Probe ProbeSpec

	// OnRun, when set, intercepts every call. Return handled=false to get
	// the default behavior.
	OnRun func(name string, args []string) (stdout, stderr []byte, err error, handled bool)
}

// ProbeSpec is the synthetic media reported by probe calls.
type ProbeSpec struct {
	Width    int
	Height   int
	FPS      string // rational, e.g. "30/1"
	Duration float64
}

// DefaultProbe is a 720p 30fps 10s clip.
var DefaultProbe = ProbeSpec{Width: 1280, Height: 720, FPS: "30/1", Duration: 10}

func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Name: name, Args: append([]string(nil), args...)})
	f.mu.Unlock()

	if f.OnRun != nil {
		if stdout, stderr, err, handled := f.OnRun(name, args); handled {
			return stdout, stderr, err
		}
	}

	if isProbe(name) {
		spec := f.Probe
		if spec == (ProbeSpec{}) {
			spec = DefaultProbe
		}
		return []byte(ProbeJSON(spec)), nil, nil
	}

	// Encode-style call: create the output file unless writing to the null
	// muxer ("-").
	if len(args) > 0 {
		if out := args[len(args)-1]; out != "-" {
			if err := os.WriteFile(out, []byte("fake media "+name), 0o644); err != nil {
				return nil, nil, err
			}
		}
	}
	return nil, nil, nil
}

// Calls returns a copy of all recorded invocations.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CountWithArg counts invocations whose argument list contains substr as an
// exact argument.
func (f *FakeRunner) CountWithArg(arg string) int {
	n := 0
	for _, c := range f.Calls() {
		for _, a := range c.Args {
			if a == arg {
				n++
				break
			}
		}
	}
	return n
}

// ProbeJSON renders an ffprobe-shaped JSON document for spec.
func ProbeJSON(spec ProbeSpec) string {
	if spec.Width == 0 {
		return fmt.Sprintf(`{"streams":[{"codec_type":"audio"}],"format":{"duration":"%f"}}`, spec.Duration)
	}
	return fmt.Sprintf(
		`{"streams":[{"codec_type":"video","width":%d,"height":%d,"r_frame_rate":"%s"}],"format":{"duration":"%f"}}`,
		spec.Width, spec.Height, spec.FPS, spec.Duration,
	)
}

func isProbe(name string) bool {
	return name == "ffprobe" || len(name) > 7 && name[len(name)-7:] == "ffprobe"
}
