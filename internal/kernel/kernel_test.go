package kernel

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/me/strider/internal/config"
	"github.com/me/strider/internal/logging"
	"github.com/me/strider/internal/processor"
	ksys "github.com/me/strider/internal/syscall"
	"github.com/me/strider/internal/task"
	"github.com/me/strider/pkg/model"
)

func testConfig() config.KernelSettings {
	cfg := config.DefaultKernelConfig().Kernel
	cfg.MemoryFrames = 64
	return cfg
}

func testKernel(t *testing.T, cfg config.KernelSettings, opts ...Option) *Kernel {
	t.Helper()
	k, err := New(cfg, logging.Discard(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return k
}

func mustSpawn(t *testing.T, k *Kernel, name string) int {
	t.Helper()
	pid, err := k.Spawn(name)
	if err != nil {
		t.Fatalf("Spawn(%q): %v", name, err)
	}
	return pid
}

// runWithTimeout fails the test instead of hanging if the loop never stops.
func runWithTimeout(t *testing.T, k *Kernel, ctx context.Context) (Result, error) {
	t.Helper()
	type out struct {
		res Result
		err error
	}
	ch := make(chan out, 1)
	go func() {
		res, err := k.Run(ctx)
		ch <- out{res, err}
	}()
	select {
	case o := <-ch:
		return o.res, o.err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return Result{}, nil
	}
}

func yieldForever(u *User) int {
	for {
		u.Yield()
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultPriority = 1
	if _, err := New(cfg, logging.Discard()); !errors.Is(err, task.ErrPriority) {
		t.Errorf("default priority 1: err = %v, want ErrPriority", err)
	}
	cfg = testConfig()
	cfg.Policy = "lottery"
	if _, err := New(cfg, logging.Discard()); err == nil {
		t.Error("unknown policy accepted")
	}
	cfg = testConfig()
	cfg.MemoryFrames = 0
	if _, err := New(cfg, logging.Discard()); err == nil {
		t.Error("zero frames accepted")
	}
}

func TestRegister(t *testing.T) {
	k := testKernel(t, testConfig(), WithProgram(ProgramSpec{Name: "init", Main: yieldForever}))
	if err := k.Register(ProgramSpec{Name: "init", Main: yieldForever}); !errors.Is(err, ErrDuplicateProgram) {
		t.Errorf("duplicate: err = %v", err)
	}
	if err := k.Register(ProgramSpec{Name: "low", Priority: 1, Main: yieldForever}); !errors.Is(err, task.ErrPriority) {
		t.Errorf("priority 1: err = %v", err)
	}
	if err := k.Register(ProgramSpec{Name: "nobody"}); err == nil {
		t.Error("program without body accepted")
	}
	if got := k.Programs(); len(got) != 1 || got[0] != "init" {
		t.Errorf("Programs() = %v", got)
	}
	if name, ok := k.ProgramName(0); !ok || name != "init" {
		t.Errorf("ProgramName(0) = %q, %v", name, ok)
	}
	if _, ok := k.ProgramName(1); ok {
		t.Error("ProgramName(1) resolved")
	}
}

func TestSpawn_UnknownProgram(t *testing.T) {
	k := testKernel(t, testConfig())
	if _, err := k.Spawn("ghost"); !errors.Is(err, ksys.ErrUnknownProgram) {
		t.Errorf("err = %v, want ErrUnknownProgram", err)
	}
	if k.Live() != 0 {
		t.Errorf("Live() = %d after failed spawn", k.Live())
	}
}

func TestSpawn_OutOfFramesLeavesNothingBehind(t *testing.T) {
	cfg := testConfig()
	cfg.MemoryFrames = 3 // kernel root, task root, one of two stack pages
	k := testKernel(t, cfg, WithProgram(ProgramSpec{Name: "p", Main: yieldForever}))
	free := k.FreeFrames()
	if _, err := k.Spawn("p"); err == nil {
		t.Fatal("spawn succeeded without enough frames")
	}
	if k.FreeFrames() != free {
		t.Errorf("free frames = %d, want %d", k.FreeFrames(), free)
	}
}

func TestRun_NoTasksCompletes(t *testing.T) {
	k := testKernel(t, testConfig())
	res, err := k.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.State != model.RunStateCompleted {
		t.Errorf("State = %s, want COMPLETED", res.State)
	}
}

func TestRun_ExitCodeAndFrameRecycling(t *testing.T) {
	k := testKernel(t, testConfig(),
		WithProgram(ProgramSpec{Name: "five", Main: func(u *User) int { return 5 }}),
		WithProgram(ProgramSpec{Name: "explicit", Main: func(u *User) int {
			u.Exit(9)
			return 0
		}}),
	)
	free := k.FreeFrames()
	mustSpawn(t, k, "five")
	mustSpawn(t, k, "explicit")
	if k.FreeFrames() != free-6 {
		t.Errorf("free frames after spawn = %d, want %d", k.FreeFrames(), free-6)
	}

	res, err := runWithTimeout(t, k, context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.State != model.RunStateCompleted || res.Exited != 2 || res.Live != 0 {
		t.Errorf("result = %+v", res)
	}
	if k.FreeFrames() != free {
		t.Errorf("free frames after exit = %d, want %d", k.FreeFrames(), free)
	}

	tasks := k.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("tasks = %+v", tasks)
	}
	if tasks[0].ExitCode != 5 || tasks[1].ExitCode != 9 {
		t.Errorf("exit codes = %d, %d, want 5, 9", tasks[0].ExitCode, tasks[1].ExitCode)
	}
	for _, ti := range tasks {
		if ti.Status != model.TaskStatusZombie {
			t.Errorf("pid %d status = %s, want ZOMBIE", ti.Pid, ti.Status)
		}
	}
	if res.Syscalls["exit"] != 1 {
		t.Errorf("exit syscalls = %d, want 1", res.Syscalls["exit"])
	}
}

func TestExit_DeferredCallsRunBeforeNextTask(t *testing.T) {
	var events []string
	k := testKernel(t, testConfig(),
		WithProgram(ProgramSpec{Name: "deferring", Main: func(u *User) int {
			defer func() { events = append(events, "deferred") }()
			u.Exit(0)
			return 1
		}}),
		WithProgram(ProgramSpec{Name: "counter", Main: func(u *User) int {
			for i := 0; i < 3; i++ {
				events = append(events, "counter")
				u.Yield()
			}
			return 0
		}}),
	)
	mustSpawn(t, k, "deferring")
	mustSpawn(t, k, "counter")

	if _, err := runWithTimeout(t, k, context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []string{"deferred", "counter", "counter", "counter"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events = %v, want %v", events, want)
			break
		}
	}
	if tasks := k.Tasks(); tasks[0].ExitCode != 0 {
		t.Errorf("exit code = %d, want the one passed to Exit", tasks[0].ExitCode)
	}
}

func TestUser_SyscallsGoThroughTrapContext(t *testing.T) {
	var pid, sepcBefore, sepcAfter int64
	var prio int64
	k := testKernel(t, testConfig(), WithProgram(ProgramSpec{Name: "caller", Priority: 4, Main: func(u *User) int {
		sepcBefore = int64(u.Sepc())
		pid = u.GetPid()
		u.Yield()
		prio = u.SetPriority(10)
		sepcAfter = int64(u.Sepc())
		return 0
	}}))
	want := mustSpawn(t, k, "caller")

	if _, err := runWithTimeout(t, k, context.Background()); err != nil {
		t.Fatal(err)
	}
	if pid != int64(want) {
		t.Errorf("GetPid = %d, want %d", pid, want)
	}
	if prio != 10 {
		t.Errorf("SetPriority = %d, want 10", prio)
	}
	if sepcBefore != int64(ProgramEntry) || sepcAfter != int64(ProgramEntry)+12 {
		t.Errorf("sepc = %#x -> %#x, want three 4-byte advances from %#x", sepcBefore, sepcAfter, uint64(ProgramEntry))
	}
}

func TestUser_SpawnChild(t *testing.T) {
	var childPid, missing int64
	k := testKernel(t, testConfig(),
		WithProgram(ProgramSpec{Name: "parent", Main: func(u *User) int {
			childPid = u.Spawn("child")
			missing = u.Spawn("nope")
			return 0
		}}),
		WithProgram(ProgramSpec{Name: "child", Main: func(u *User) int { return 1 }}),
	)
	parent := mustSpawn(t, k, "parent")

	res, err := runWithTimeout(t, k, context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if missing != -1 {
		t.Errorf("Spawn(nope) = %d, want -1", missing)
	}
	if res.Spawned != 2 || res.Exited != 2 {
		t.Errorf("result = %+v", res)
	}
	tasks := k.Tasks()
	if len(tasks) != 2 || int64(tasks[1].Pid) != childPid || tasks[1].Parent != parent {
		t.Errorf("tasks = %+v, want child %d of %d", tasks, childPid, parent)
	}
}

func TestUser_MmapAndRecycle(t *testing.T) {
	var ok, overlap, unmap int64
	k := testKernel(t, testConfig(), WithProgram(ProgramSpec{Name: "mapper", Main: func(u *User) int {
		ok = u.Mmap(0x1000_0000, 4*4096, 0b011)
		overlap = u.Mmap(0x1000_0000, 4096, 0b001)
		unmap = u.Munmap(0x1000_0000, 4096)
		return 0
	}}))
	free := k.FreeFrames()
	mustSpawn(t, k, "mapper")
	if _, err := runWithTimeout(t, k, context.Background()); err != nil {
		t.Fatal(err)
	}
	if ok != 0 || overlap != -1 || unmap != -1 {
		t.Errorf("mmap/overlap/munmap = %d/%d/%d, want 0/-1/-1", ok, overlap, unmap)
	}
	if k.FreeFrames() != free {
		t.Errorf("free frames = %d, want %d after exit", k.FreeFrames(), free)
	}
}

func TestRun_DispatchBudgetAndFairness(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDispatches = 7000
	counts := make(map[int]int)
	k := testKernel(t, cfg,
		WithProgram(ProgramSpec{Name: "p2", Priority: 2, Main: yieldForever}),
		WithProgram(ProgramSpec{Name: "p4", Priority: 4, Main: yieldForever}),
		WithProgram(ProgramSpec{Name: "p8", Priority: 8, Main: yieldForever}),
		WithDispatchObserver(processor.ObserverFunc(func(ev processor.DispatchEvent) {
			counts[ev.Priority]++
		})),
	)
	for _, name := range []string{"p2", "p4", "p8"} {
		mustSpawn(t, k, name)
	}

	res, err := runWithTimeout(t, k, context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.State != model.RunStateStopped || res.Dispatches != 7000 || res.Live != 3 {
		t.Fatalf("result = %+v", res)
	}
	for _, p := range []int{2, 4, 8} {
		got := float64(counts[p]) / float64(res.Dispatches)
		want := float64(p) / 14
		if math.Abs(got-want) > 0.01 {
			t.Errorf("priority %d share = %.4f, want %.4f", p, got, want)
		}
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := testKernel(t, testConfig(), WithProgram(ProgramSpec{Name: "stopper", Main: func(u *User) int {
		cancel()
		for {
			u.Yield()
		}
	}}))
	mustSpawn(t, k, "stopper")

	res, err := runWithTimeout(t, k, ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if res.State != model.RunStateStopped || res.Live != 1 {
		t.Errorf("result = %+v", res)
	}
}

type lifecycleLog struct {
	spawned []TaskInfo
	exits   map[int]int
}

func (l *lifecycleLog) OnSpawn(info TaskInfo) { l.spawned = append(l.spawned, info) }
func (l *lifecycleLog) OnExit(pid, code int)  { l.exits[pid] = code }

func TestLifecycleObserver(t *testing.T) {
	log := &lifecycleLog{exits: make(map[int]int)}
	k := testKernel(t, testConfig(),
		WithLifecycleObserver(log),
		WithProgram(ProgramSpec{Name: "quick", Priority: 6, Main: func(u *User) int { return 2 }}),
	)
	pid := mustSpawn(t, k, "quick")
	if _, err := runWithTimeout(t, k, context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(log.spawned) != 1 || log.spawned[0].Priority != 6 || log.spawned[0].Parent != -1 {
		t.Errorf("spawned = %+v", log.spawned)
	}
	if log.exits[pid] != 2 {
		t.Errorf("exits = %v", log.exits)
	}
}

func TestSpawn_LateTaskJoinsAtLowestStride(t *testing.T) {
	cfg := testConfig()
	cfg.BigStride = math.MaxInt64
	var order []int
	log := &lifecycleLog{exits: make(map[int]int)}
	k := testKernel(t, cfg,
		WithLifecycleObserver(log),
		WithDispatchObserver(processor.ObserverFunc(func(ev processor.DispatchEvent) {
			order = append(order, ev.Pid)
		})),
		WithProgram(ProgramSpec{Name: "early", Priority: 2, Main: func(u *User) int {
			for i := 0; i < 3; i++ {
				u.Yield()
			}
			u.Spawn("late")
			u.Yield()
			return 0
		}}),
		WithProgram(ProgramSpec{Name: "late", Priority: 2, Main: func(u *User) int { return 0 }}),
	)
	mustSpawn(t, k, "early")
	if _, err := runWithTimeout(t, k, context.Background()); err != nil {
		t.Fatal(err)
	}

	// Four dispatches of early put its stride past 2^63; a late task at
	// stride 0 would then compare as ahead of it and lose the pick.
	pass := uint64(math.MaxInt64) / 2
	if len(log.spawned) != 2 || log.spawned[1].Stride != 4*pass {
		t.Fatalf("spawned = %+v, want late at stride %d", log.spawned, 4*pass)
	}
	want := []int{0, 0, 0, 0, 1, 0}
	if len(order) != len(want) {
		t.Fatalf("dispatch order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("dispatch order = %v, want %v", order, want)
			break
		}
	}
}
