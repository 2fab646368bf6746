package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
)

// ExecLauncher runs each crawl job by re-executing the service binary with
// the crawl subcommand, so a crashing job can never take the control plane
// down with it.
type ExecLauncher struct {
	binary     string
	configPath string
	logger     *zap.Logger
}

// NewExecLauncher builds a launcher around the current executable.
// configPath may be empty.
func NewExecLauncher(configPath string, logger *zap.Logger) (*ExecLauncher, error) {
	binary, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecLauncher{binary: binary, configPath: configPath, logger: logger}, nil
}

// Launch implements Launcher.
func (l *ExecLauncher) Launch(ctx context.Context, spider string, params crawler.JobParams) (Process, error) {
	args := []string{"crawl", "--spider", spider}
	if params.Keyword != "" {
		args = append(args, "--keyword", params.Keyword)
	}
	if params.MaxPages > 0 {
		args = append(args, "--max-pages", strconv.Itoa(params.MaxPages))
	}
	if l.configPath != "" {
		args = append(args, "--config", l.configPath)
	}

	// Deliberately not CommandContext: the job must outlive the API
	// request that started it.
	cmd := exec.Command(l.binary, args...) //nolint:gosec
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// Own process group so signals target the job, not the server.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start crawl process: %w", err)
	}
	l.logger.Debug("crawl process spawned",
		zap.String("spider", spider),
		zap.Int("pid", cmd.Process.Pid))

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *execProcess) Signal(sig syscall.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}
