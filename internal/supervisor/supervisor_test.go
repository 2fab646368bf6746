package supervisor

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
)

type fakeProcess struct {
	done        chan struct{}
	err         error
	ignoreTerm  bool
	signals     []syscall.Signal
	killed      bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) Signal(sig syscall.Signal) error {
	p.signals = append(p.signals, sig)
	if sig == syscall.SIGTERM && !p.ignoreTerm {
		p.exit(nil)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.killed = true
	p.exit(nil)
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *fakeProcess) exit(err error) {
	select {
	case <-p.done:
	default:
		p.err = err
		close(p.done)
	}
}

type fakeLauncher struct {
	procs     []*fakeProcess
	launchErr error
	launches  int
}

func (l *fakeLauncher) Launch(context.Context, string, crawler.JobParams) (Process, error) {
	l.launches++
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	p := newFakeProcess()
	l.procs = append(l.procs, p)
	return p, nil
}

func newTestSupervisor(t *testing.T, launcher Launcher) *Supervisor {
	t.Helper()
	return New(launcher, []string{"xiaohongshu"}, 50*time.Millisecond, zap.NewNop())
}

func TestStartRejectsDuplicate(t *testing.T) {
	launcher := &fakeLauncher{}
	sup := newTestSupervisor(t, launcher)
	ctx := context.Background()

	jobID, err := sup.Start(ctx, "xiaohongshu", crawler.JobParams{Keyword: "美妆"})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	_, err = sup.Start(ctx, "xiaohongshu", crawler.JobParams{Keyword: "口红"})
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.Equal(t, 1, launcher.launches, "original run must be untouched")

	status, err := sup.Status("xiaohongshu")
	require.NoError(t, err)
	require.Equal(t, jobID, status.JobID)
	require.Equal(t, crawler.JobStateRunning, status.State)
	require.Equal(t, "美妆", status.Params.Keyword)
}

// gatedLauncher blocks inside Launch until released, so a test can hold
// one Start mid-launch while issuing another.
type gatedLauncher struct {
	fakeLauncher
	entered chan struct{}
	release chan struct{}
}

func (l *gatedLauncher) Launch(ctx context.Context, spider string, params crawler.JobParams) (Process, error) {
	close(l.entered)
	<-l.release
	return l.fakeLauncher.Launch(ctx, spider, params)
}

func TestOverlappingStartsAdmitExactlyOne(t *testing.T) {
	launcher := &gatedLauncher{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	sup := newTestSupervisor(t, launcher)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := sup.Start(ctx, "xiaohongshu", crawler.JobParams{Keyword: "美妆"})
		first <- err
	}()

	// The first Start is parked inside Launch; the second must be turned
	// away without spawning anything.
	<-launcher.entered
	_, err := sup.Start(ctx, "xiaohongshu", crawler.JobParams{Keyword: "口红"})
	require.ErrorIs(t, err, ErrAlreadyRunning)

	close(launcher.release)
	require.NoError(t, <-first)
	require.Equal(t, 1, launcher.launches)

	status, err := sup.Status("xiaohongshu")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStateRunning, status.State)
	require.Equal(t, "美妆", status.Params.Keyword)
}

func TestStartUnknownSpider(t *testing.T) {
	sup := newTestSupervisor(t, &fakeLauncher{})
	_, err := sup.Start(context.Background(), "nope", crawler.JobParams{})
	require.ErrorIs(t, err, ErrUnknownSpider)
}

func TestFailedLaunchLeavesNoHandle(t *testing.T) {
	launcher := &fakeLauncher{launchErr: errors.New("binary missing")}
	sup := newTestSupervisor(t, launcher)

	_, err := sup.Start(context.Background(), "xiaohongshu", crawler.JobParams{})
	require.Error(t, err)

	status, err := sup.Status("xiaohongshu")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStateIdle, status.State)

	// The name is free for a retry.
	launcher.launchErr = nil
	_, err = sup.Start(context.Background(), "xiaohongshu", crawler.JobParams{})
	require.NoError(t, err)
}

func TestStopGracefully(t *testing.T) {
	launcher := &fakeLauncher{}
	sup := newTestSupervisor(t, launcher)
	ctx := context.Background()

	_, err := sup.Start(ctx, "xiaohongshu", crawler.JobParams{})
	require.NoError(t, err)
	require.NoError(t, sup.Stop(ctx, "xiaohongshu"))

	proc := launcher.procs[0]
	require.Contains(t, proc.signals, syscall.SIGTERM)
	require.False(t, proc.killed)

	require.Eventually(t, func() bool {
		status, err := sup.Status("xiaohongshu")
		return err == nil && status.State == crawler.JobStateStopped
	}, time.Second, 5*time.Millisecond)
}

func TestStopEscalatesToKill(t *testing.T) {
	launcher := &fakeLauncher{}
	sup := newTestSupervisor(t, launcher)
	ctx := context.Background()

	_, err := sup.Start(ctx, "xiaohongshu", crawler.JobParams{})
	require.NoError(t, err)
	launcher.procs[0].ignoreTerm = true

	require.NoError(t, sup.Stop(ctx, "xiaohongshu"))
	require.True(t, launcher.procs[0].killed)
}

func TestStopWithoutRunReturnsNotRunning(t *testing.T) {
	sup := newTestSupervisor(t, &fakeLauncher{})
	err := sup.Stop(context.Background(), "xiaohongshu")
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestAggregateStatsAcrossRuns(t *testing.T) {
	launcher := &fakeLauncher{}
	sup := newTestSupervisor(t, launcher)
	ctx := context.Background()

	// Run 1: completes cleanly.
	_, err := sup.Start(ctx, "xiaohongshu", crawler.JobParams{})
	require.NoError(t, err)
	launcher.procs[0].exit(nil)
	require.Eventually(t, func() bool {
		status, _ := sup.Status("xiaohongshu")
		return status.State == crawler.JobStateCompleted
	}, time.Second, 5*time.Millisecond)

	// Run 2: crashes.
	_, err = sup.Start(ctx, "xiaohongshu", crawler.JobParams{})
	require.NoError(t, err)
	launcher.procs[1].exit(errors.New("exit status 1"))
	require.Eventually(t, func() bool {
		status, _ := sup.Status("xiaohongshu")
		return status.State == crawler.JobStateFailed
	}, time.Second, 5*time.Millisecond)

	status, err := sup.Status("xiaohongshu")
	require.NoError(t, err)
	require.Equal(t, 2, status.Stats.TotalRuns)
	require.Equal(t, 1, status.Stats.SuccessfulRuns)
	require.Equal(t, 1, status.Stats.FailedRuns)
	require.Equal(t, crawler.JobStateFailed, status.Stats.LastRunStatus)
	require.False(t, status.Stats.LastRunTime.IsZero())
}

func TestStatusAllListsKnownSpiders(t *testing.T) {
	sup := newTestSupervisor(t, &fakeLauncher{})
	all := sup.StatusAll()
	require.Len(t, all, 1)
	require.Equal(t, "xiaohongshu", all[0].Spider)
	require.Equal(t, crawler.JobStateIdle, all[0].State)
}
