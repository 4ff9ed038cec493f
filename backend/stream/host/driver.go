// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package host provides a stream.Driver that runs kernels on the CPU.
//
// Kernels are Go functions registered under a module and entry point name
// (see Register). The compiler's TargetHost output names the module; the
// WGSL source of the same module supplies the reflected binding layout and
// thread-group size, so a host kernel is launched exactly like its GPU
// counterpart.
//
// Blocks of a launch run in parallel on up to GOMAXPROCS goroutines.
// Threads within a block run sequentially, so kernels must not rely on
// workgroup barriers.
package host

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/cpu"

	"github.com/gogpu/gpuhal/backend/stream"
	"github.com/gogpu/gpuhal/compiler"
)

// MaxGridDim is the largest grid extent the host driver accepts.
const MaxGridDim = 1<<31 - 1

var errClosed = errors.New("host: driver closed")

// Option configures a Driver.
type Option func(*Driver)

// WithKernels makes the driver resolve kernels from ks instead of the
// process-wide table.
func WithKernels(ks *Kernels) Option {
	return func(d *Driver) {
		d.kernels = ks
	}
}

// WithWorkers sets the number of goroutines a launch is spread over.
func WithWorkers(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.workers = n
		}
	}
}

// Driver is the CPU stream driver.
type Driver struct {
	kernels *Kernels
	workers int
	mem     *memory

	mu     sync.Mutex // guards closed and the tasks channel send side
	closed bool
	tasks  chan func() error
	done   chan struct{}

	errMu sync.Mutex
	err   error // first failure since the last Synchronize
}

var _ stream.Driver = (*Driver)(nil)

// NewDriver starts a driver with its stream worker.
func NewDriver(opts ...Option) *Driver {
	d := &Driver{
		kernels: defaultKernels,
		workers: runtime.GOMAXPROCS(0),
		mem:     newMemory(),
		tasks:   make(chan func() error, 1000),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.worker()
	return d
}

func (d *Driver) worker() {
	for task := range d.tasks {
		if err := task(); err != nil {
			d.setErr(err)
		}
	}
	close(d.done)
}

func (d *Driver) setErr(err error) {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	if d.err == nil {
		d.err = err
	}
}

func (d *Driver) takeErr() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	err := d.err
	d.err = nil
	return err
}

// submit enqueues task on the stream.
func (d *Driver) submit(task func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed
	}
	d.tasks <- task
	return nil
}

// Name implements stream.Driver.
func (d *Driver) Name() string { return "host" }

// Features describes the SIMD features of the CPU the driver runs on.
func (d *Driver) Features() string {
	var fs []string
	switch runtime.GOARCH {
	case "amd64", "386":
		for _, f := range []struct {
			name string
			ok   bool
		}{
			{"sse4.1", cpu.X86.HasSSE41},
			{"avx", cpu.X86.HasAVX},
			{"avx2", cpu.X86.HasAVX2},
			{"fma", cpu.X86.HasFMA},
			{"avx512f", cpu.X86.HasAVX512F},
		} {
			if f.ok {
				fs = append(fs, f.name)
			}
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			fs = append(fs, "neon")
		}
		if cpu.ARM64.HasFPHP && cpu.ARM64.HasASIMDHP {
			fs = append(fs, "fp16")
		}
	}
	return fmt.Sprintf("%s/%s %d workers [%s]", runtime.GOOS, runtime.GOARCH, d.workers, strings.Join(fs, " "))
}

// Target implements stream.Driver.
func (d *Driver) Target() compiler.Target { return compiler.TargetHost }

// MaxGridDim implements stream.Driver.
func (d *Driver) MaxGridDim() stream.Dim3 {
	return stream.Dim3{X: MaxGridDim, Y: MaxGridDim, Z: MaxGridDim}
}

type hostModule struct {
	name string
}

func (m *hostModule) Unload() error { return nil }

type hostFunction struct {
	name   string
	kernel Kernel
}

func (f *hostFunction) Name() string { return f.name }

// LoadModule implements stream.Driver. code must come from
// compiler.HostCode.
func (d *Driver) LoadModule(code []byte) (stream.DriverModule, error) {
	name, ok := compiler.ParseHostCode(code)
	if !ok {
		return nil, fmt.Errorf("host: code is not a host module (%d bytes)", len(code))
	}
	return &hostModule{name: name}, nil
}

// Function implements stream.Driver.
func (d *Driver) Function(m stream.DriverModule, name string) (stream.DriverFunction, error) {
	hm, ok := m.(*hostModule)
	if !ok {
		return nil, fmt.Errorf("host: module %T was not loaded by this driver", m)
	}
	k, err := d.kernels.Lookup(hm.name, name)
	if err != nil {
		return nil, err
	}
	return &hostFunction{name: name, kernel: k}, nil
}

// Alloc implements stream.Driver.
func (d *Driver) Alloc(size uint64) (stream.DevicePtr, error) {
	return d.mem.alloc(size)
}

// Free implements stream.Driver.
func (d *Driver) Free(p stream.DevicePtr) error {
	return d.mem.free(p)
}

// MemoryStats returns the bytes currently allocated and the peak.
func (d *Driver) MemoryStats() (allocated, peak uint64) {
	return d.mem.stats()
}

// CopyHtoD implements stream.Driver. src is copied before the call
// returns and may be reused immediately.
func (d *Driver) CopyHtoD(dst stream.DevicePtr, src []byte) error {
	mem, err := d.mem.resolve(dst, uint64(len(src)))
	if err != nil {
		return err
	}
	data := append([]byte(nil), src...)
	return d.submit(func() error {
		copy(mem, data)
		return nil
	})
}

// CopyDtoH implements stream.Driver.
func (d *Driver) CopyDtoH(dst []byte, src stream.DevicePtr) error {
	mem, err := d.mem.resolve(src, uint64(len(dst)))
	if err != nil {
		return err
	}
	if err := d.Synchronize(); err != nil {
		return err
	}
	copy(dst, mem)
	return nil
}

// CopyDtoD implements stream.Driver.
func (d *Driver) CopyDtoD(dst, src stream.DevicePtr, size uint64) error {
	to, err := d.mem.resolve(dst, size)
	if err != nil {
		return err
	}
	from, err := d.mem.resolve(src, size)
	if err != nil {
		return err
	}
	return d.submit(func() error {
		copy(to, from)
		return nil
	})
}

// Launch implements stream.Driver.
func (d *Driver) Launch(fn stream.DriverFunction, grid, block stream.Dim3, args []stream.KernelArg) error {
	hf, ok := fn.(*hostFunction)
	if !ok {
		return fmt.Errorf("host: function %T was not loaded by this driver", fn)
	}
	if block.Size() == 0 {
		return fmt.Errorf("host: empty block %v", block)
	}
	mems := make([][]byte, len(args))
	for i, a := range args {
		mem, err := d.mem.resolve(a.Ptr, a.Size)
		if err != nil {
			return fmt.Errorf("host: argument %d: %w", i, err)
		}
		mems[i] = mem
	}
	if grid.Size() == 0 {
		return nil
	}
	return d.submit(func() error {
		return d.run(hf, grid, block, mems)
	})
}

// run executes every block of grid, spreading contiguous runs of blocks
// over the workers.
func (d *Driver) run(fn *hostFunction, grid, block stream.Dim3, args [][]byte) error {
	nBlocks := grid.Size()
	workers := min(uint64(d.workers), nBlocks)
	perWorker := (nBlocks + workers - 1) / workers

	var g errgroup.Group
	for w := range workers {
		start := w * perWorker
		end := min(start+perWorker, nBlocks)
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("host: kernel %s panicked: %v", fn.name, r)
				}
			}()
			for b := start; b < end; b++ {
				tid := ThreadID{BlockIdx: linearTo3D(b, grid), BlockDim: block, GridDim: grid}
				for t := range block.Size() {
					tid.ThreadIdx = linearTo3D(t, block)
					fn.kernel(tid, args)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func linearTo3D(i uint64, dim stream.Dim3) stream.Dim3 {
	xy := uint64(dim.X) * uint64(dim.Y)
	return stream.Dim3{
		X: uint32(i % uint64(dim.X)),
		Y: uint32((i % xy) / uint64(dim.X)),
		Z: uint32(i / xy),
	}
}

// Synchronize implements stream.Driver. It returns the first kernel
// failure since the previous Synchronize.
func (d *Driver) Synchronize() error {
	fence := make(chan struct{})
	err := d.submit(func() error {
		close(fence)
		return nil
	})
	switch {
	case errors.Is(err, errClosed):
		<-d.done
	case err != nil:
		return err
	default:
		<-fence
	}
	return d.takeErr()
}

// Close drains the stream and stops the worker.
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.tasks)
	d.mu.Unlock()
	<-d.done
	return d.takeErr()
}
