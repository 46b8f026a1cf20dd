// Command sau compiles and renders SAU scripts to an audio device and/or
// a WAV file (spec 6.1).
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sauaudio/sau"
	"github.com/sauaudio/sau/internal/audio"
	"github.com/sauaudio/sau/internal/program"
)

const usage = `usage: sau [-a|-m] [-r srate] [-o wavfile] [-e] [-p] [-c] [-h [topic]] [-v] <script>...

  -a           force audio-device output on
  -m           force audio-device output off
  -r N         request sample rate in Hz (default 44100)
  -o path      write 16-bit PCM WAV to path
  -e           treat arguments as inline script text, not paths
  -p           print program info after build
  -c           check only: parse and build, do not render
  -h [topic]   print this usage (a topic argument is ignored)
  -v           print version
`

const version = "sau 0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	fs := flag.NewFlagSet("sau", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }

	var (
		forceAudioOn  = fs.Bool("a", false, "force audio-device output on")
		forceAudioOff = fs.Bool("m", false, "force audio-device output off")
		sampleRate    = fs.Int("r", 44100, "sample rate in Hz")
		wavPath       = fs.String("o", "", "WAV output path")
		inline        = fs.Bool("e", false, "arguments are inline scripts")
		printInfo     = fs.Bool("p", false, "print program info")
		checkOnly     = fs.Bool("c", false, "check only, do not render")
		help          = fs.Bool("h", false, "print usage")
		showVersion   = fs.Bool("v", false, "print version")
	)
	if err := fs.Parse(args); err != nil {
		return 0
	}

	if *help {
		fmt.Fprint(stdout, usage)
		return 0
	}
	if *showVersion {
		fmt.Fprintln(stdout, version)
		return 0
	}

	if *forceAudioOn && *forceAudioOff {
		fmt.Fprintln(stderr, "sau: -a and -m are incompatible")
		fmt.Fprint(stderr, usage)
		return 0
	}
	if *checkOnly && (*forceAudioOn || *wavPath != "") {
		fmt.Fprintln(stderr, "sau: -c is incompatible with playback flags")
		fmt.Fprint(stderr, usage)
		return 0
	}
	if *sampleRate <= 0 {
		fmt.Fprintln(stderr, "sau: -r requires a positive sample rate")
		return 1
	}

	scripts := fs.Args()
	if len(scripts) == 0 {
		return 0
	}

	playAudio := !*checkOnly && !*forceAudioOff && (*forceAudioOn || *wavPath == "")
	if *forceAudioOn {
		playAudio = true
	}

	hadError := false
	for i, arg := range scripts {
		name, src, err := resolveScript(arg, *inline, i)
		if err != nil {
			fmt.Fprintf(stderr, "sau: %v\n", err)
			hadError = true
			continue
		}

		prog, diags, err := sau.Build(name, src)
		for _, d := range diags {
			fmt.Fprintf(stderr, "sau: %s: %s\n", name, d)
		}
		if err != nil {
			fmt.Fprintf(stderr, "sau: %v\n", err)
			hadError = true
			continue
		}

		if *printInfo {
			info := sau.Describe(prog)
			fmt.Fprintf(stdout, "%s: %d ops, %d voices, %d events, %dms\n",
				info.Name, info.NumOps, info.NumVoices, info.NumEvents, info.DurationMS)
		}

		if *checkOnly {
			continue
		}

		if err := renderScript(prog, *sampleRate, playAudio, *wavPath, stderr); err != nil {
			fmt.Fprintf(stderr, "sau: %v\n", err)
			hadError = true
		}
	}

	if hadError {
		return 1
	}
	return 0
}

// resolveScript turns one CLI argument into a script name and its source
// bytes: either the literal inline text (-e) or the contents of a file.
func resolveScript(arg string, inline bool, index int) (name string, src []byte, err error) {
	if inline {
		return fmt.Sprintf("inline#%d", index), []byte(arg), nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return "", nil, fmt.Errorf("reading %s: %w", arg, err)
	}
	return strings.TrimSuffix(arg, ".sau"), data, nil
}

func renderScript(prog *program.Program, sampleRate int, playAudio bool, wavPath string, stderr *os.File) error {
	var targets []sau.RenderTarget

	if playAudio {
		dev, err := audio.OpenDeviceSink(sampleRate)
		if err != nil {
			return fmt.Errorf("opening audio device: %w", err)
		}
		defer dev.Close()
		targets = append(targets, sau.RenderTarget{Sink: dev, SampleRate: sampleRate})
	}

	if wavPath != "" {
		f, err := os.Create(wavPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", wavPath, err)
		}
		sink := audio.NewWAVSink(f, sampleRate)
		defer sink.Close()
		targets = append(targets, sau.RenderTarget{Sink: sink, SampleRate: sampleRate})
	}

	if len(targets) == 0 {
		return nil
	}

	diags, err := sau.Render(prog, targets)
	for _, d := range diags {
		fmt.Fprintf(stderr, "sau: %s\n", d)
	}
	if err != nil {
		return err
	}

	for _, t := range targets {
		if dev, ok := t.Sink.(*audio.DeviceSink); ok {
			dev.Play()
			for dev.IsPlaying() {
				time.Sleep(10 * time.Millisecond)
			}
		}
	}
	return nil
}
