package remote

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// ptraceThread serializes every ptrace(2) call onto one dedicated,
// OS-thread-locked goroutine: ptrace requires all its calls for a given
// tracee to originate from the thread that attached to it. Grounded on
// golang-debug's program/server/ptrace.go ptraceRun, generalized from
// its os/syscall-package calls to golang.org/x/sys/unix.
type ptraceThread struct {
	fc chan func() error
	ec chan error
}

func newPtraceThread() *ptraceThread {
	t := &ptraceThread{fc: make(chan func() error), ec: make(chan error)}
	go t.run()
	return t
}

func (t *ptraceThread) run() {
	runtime.LockOSThread()
	for f := range t.fc {
		t.ec <- f()
	}
}

func (t *ptraceThread) do(f func() error) error {
	t.fc <- f
	return <-t.ec
}

func (t *ptraceThread) getRegs(pid int, regs *unix.PtraceRegs) error {
	return t.do(func() error { return unix.PtraceGetRegs(pid, regs) })
}

func (t *ptraceThread) setRegs(pid int, regs *unix.PtraceRegs) error {
	return t.do(func() error { return unix.PtraceSetRegs(pid, regs) })
}

func (t *ptraceThread) cont(pid int, signal int) error {
	return t.do(func() error { return unix.PtraceCont(pid, signal) })
}

func (t *ptraceThread) attach(pid int) error {
	return t.do(func() error { return unix.PtraceAttach(pid) })
}

func (t *ptraceThread) detach(pid int) error {
	return t.do(func() error { return unix.PtraceDetach(pid) })
}

func (t *ptraceThread) wait(pid int) (unix.WaitStatus, error) {
	var status unix.WaitStatus
	err := t.do(func() error {
		_, err := unix.Wait4(pid, &status, 0, nil)
		return err
	})
	return status, err
}
