package worker

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

//go:embed bootstrap.js
var bootstrapSource string

// BootstrapSource returns the node bootstrap that speaks the worker protocol.
func BootstrapSource() string { return bootstrapSource }

// Environment variables set on every worker process.
const (
	EnvEntry      = "DANMUD_ENTRY"
	EnvBaseDir    = "DANMUD_BASE_DIR"
	EnvVariant    = "DANMUD_VARIANT"
	EnvGeneration = "DANMUD_GENERATION"
	EnvUnit       = "DANMUD_UNIT"
)

const (
	stderrTailBytes = 4096
	killAfter       = time.Second
)

// ProcessConfig configures ProcessSpawner.
type ProcessConfig struct {
	// Bin is the executable, e.g. node.
	Bin  string
	Args []string
	// UseBootstrap appends "-e <bootstrap.js>" to Args.
	UseBootstrap   bool
	StartupTimeout time.Duration
	StopGrace      time.Duration
	// ExtraEnv entries (KEY=value) are added to the inherited process environment.
	ExtraEnv []string
	Logger   *zerolog.Logger
	OnLog    LogFunc
	// OnExit, if set, observes every process exit.
	OnExit func(spec Spec, pid int, err error)
}

// ProcessSpawner runs every unit as its own OS process. Requests and env
// pushes travel on the child's stdin; replies come back on fd 3.
type ProcessSpawner struct {
	cfg ProcessConfig
	log zerolog.Logger
}

// NewProcessSpawner validates cfg and returns a spawner.
func NewProcessSpawner(cfg ProcessConfig) (*ProcessSpawner, error) {
	if cfg.Bin == "" {
		return nil, errors.New("worker binary is empty")
	}
	l := zerolog.Nop()
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	return &ProcessSpawner{cfg: cfg, log: l.With().Str("component", "spawner").Logger()}, nil
}

func (p *ProcessSpawner) args() []string {
	args := append([]string(nil), p.cfg.Args...)
	if p.cfg.UseBootstrap {
		args = append(args, "-e", bootstrapSource)
	}
	return args
}

// Spawn starts a process in the variant base dir and completes the handshake.
func (p *ProcessSpawner) Spawn(ctx context.Context, spec Spec) (*Unit, error) {
	fail := func(err error, tail string) error {
		return &SpawnError{Generation: spec.Generation, Unit: spec.Index, Err: err, StderrTail: tail}
	}
	ulog := p.log.With().Uint64("gen", spec.Generation).Int("unit", spec.Index).Logger()
	emit := func(level string) *lineWriter {
		return &lineWriter{emit: func(line string) {
			emitLog(ulog, p.cfg.OnLog, LogEvent{Generation: spec.Generation, Unit: spec.Index, Level: level, Message: line})
		}}
	}

	cmd := exec.Command(p.cfg.Bin, p.args()...)
	cmd.Dir = spec.Variant.BaseDir
	setProcessGroup(cmd)
	cmd.Env = append(os.Environ(), p.cfg.ExtraEnv...)
	cmd.Env = append(cmd.Env,
		EnvEntry+"="+spec.Variant.Entry,
		EnvBaseDir+"="+spec.Variant.BaseDir,
		EnvVariant+"="+spec.Variant.Kind.String(),
		EnvGeneration+"="+strconv.FormatUint(spec.Generation, 10),
		EnvUnit+"="+strconv.Itoa(spec.Index),
	)

	stdout, stderr := emit("info"), emit("error")
	tail := &tailBuffer{max: stderrTailBytes}
	cmd.Stdout = stdout
	cmd.Stderr = io.MultiWriter(stderr, tail)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fail(fmt.Errorf("stdin pipe: %w", err), "")
	}
	replies, replyW, err := os.Pipe()
	if err != nil {
		return nil, fail(fmt.Errorf("reply pipe: %w", err), "")
	}
	cmd.ExtraFiles = []*os.File{replyW}
	// a grandchild holding stdout must not keep Wait from returning
	cmd.WaitDelay = killAfter

	if err := cmd.Start(); err != nil {
		_ = replies.Close()
		_ = replyW.Close()
		return nil, fail(fmt.Errorf("start %s: %w", p.cfg.Bin, err), "")
	}
	// the child holds its own copy; EOF on replies now means the child is gone
	_ = replyW.Close()
	pid := cmd.Process.Pid
	ulog.Info().Int("pid", pid).Str("variant", spec.Variant.Kind.String()).Str("dir", cmd.Dir).Msg("worker process started")

	exited := make(chan struct{})
	var exitErr error
	go func() {
		exitErr = cmd.Wait()
		// whatever the worker started goes with it
		killGroup(pid)
		_ = stdout.Close()
		_ = stderr.Close()
		close(exited)
		if p.cfg.OnExit != nil {
			p.cfg.OnExit(spec, pid, exitErr)
		}
	}()

	stop := func(grace time.Duration) error {
		select {
		case <-exited:
			return nil
		case <-time.After(grace):
		}
		_ = signalGroup(cmd.Process, syscall.SIGTERM)
		select {
		case <-exited:
			return nil
		case <-time.After(killAfter):
		}
		ulog.Warn().Int("pid", pid).Msg("worker did not exit, killing")
		_ = signalGroup(cmd.Process, syscall.SIGKILL)
		<-exited
		return nil
	}

	u := NewUnit(UnitConfig{
		Generation: spec.Generation,
		Index:      spec.Index,
		PID:        pid,
		In:         replies,
		Out:        stdin,
		Stop:       stop,
		OnLog:      p.cfg.OnLog,
		Logger:     &p.log,
	})
	go func() {
		<-u.Done()
		<-exited
		_ = replies.Close()
		if u.Terminating() {
			ulog.Debug().Int("pid", pid).Msg("worker process exited")
			return
		}
		ulog.Error().Int("pid", pid).AnErr("exit", exitErr).Str("stderr_tail", tail.String()).Msg("worker process exited unexpectedly")
	}()

	if err := Handshake(ctx, u, spec, p.cfg.StartupTimeout); err != nil {
		_ = u.Terminate(0)
		var se *SpawnError
		if errors.As(err, &se) {
			se.StderrTail = tail.String()
			if exitErr != nil {
				se.Err = fmt.Errorf("%w (%v)", se.Err, exitErr)
			}
			return nil, se
		}
		return nil, fail(err, tail.String())
	}
	ulog.Info().Int("pid", pid).Msg("worker ready")
	return u, nil
}
