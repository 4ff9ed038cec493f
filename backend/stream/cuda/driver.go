// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build cuda && cgo

package cuda

/*
#cgo CFLAGS: -I/opt/cuda/include -I/usr/local/cuda/include
#cgo LDFLAGS: -L/opt/cuda/lib64 -L/usr/local/cuda/lib64 -lcuda

#include <cuda.h>
#include <stdlib.h>

static const char* cuErrString(CUresult r) {
	const char* s = NULL;
	if (cuGetErrorString(r, &s) != CUDA_SUCCESS || s == NULL) {
		return "unknown CUDA error";
	}
	return s;
}

// launch packs (ptr, size) pairs into kernel parameters and launches f.
static CUresult launch(CUfunction f,
		unsigned int gx, unsigned int gy, unsigned int gz,
		unsigned int bx, unsigned int by, unsigned int bz,
		CUstream stream, unsigned long long* vals, int n) {
	void** params = NULL;
	if (n > 0) {
		params = (void**)malloc(sizeof(void*) * n);
		if (params == NULL) {
			return CUDA_ERROR_OUT_OF_MEMORY;
		}
		for (int i = 0; i < n; i++) {
			params[i] = &vals[i];
		}
	}
	CUresult r = cuLaunchKernel(f, gx, gy, gz, bx, by, bz, 0, stream, params, NULL);
	free(params);
	return r;
}
*/
import "C"

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/gogpu/gpuhal/backend/stream"
	"github.com/gogpu/gpuhal/compiler"
)

func check(op string, r C.CUresult) error {
	if r == C.CUDA_SUCCESS {
		return nil
	}
	return fmt.Errorf("cuda: %s: %s (%d)", op, C.GoString(C.cuErrString(r)), int(r))
}

// Driver is a stream.Driver on the CUDA driver API. It owns one context
// and one stream on the selected device.
type Driver struct {
	mu      sync.Mutex
	ctx     C.CUcontext
	stream  C.CUstream
	name    string
	maxGrid stream.Dim3
	closed  bool
}

var _ stream.Driver = (*Driver)(nil)

// Available reports whether a CUDA device can be opened.
func Available() bool {
	if C.cuInit(0) != C.CUDA_SUCCESS {
		return false
	}
	var n C.int
	return C.cuDeviceGetCount(&n) == C.CUDA_SUCCESS && n > 0
}

// NewDriver creates a context and stream on device ordinal.
func NewDriver(ordinal int) (*Driver, error) {
	if err := check("cuInit", C.cuInit(0)); err != nil {
		return nil, err
	}
	var dev C.CUdevice
	if err := check("cuDeviceGet", C.cuDeviceGet(&dev, C.int(ordinal))); err != nil {
		return nil, err
	}
	var name [256]C.char
	if err := check("cuDeviceGetName", C.cuDeviceGetName(&name[0], C.int(len(name)), dev)); err != nil {
		return nil, err
	}
	var grid [3]C.int
	for i, attr := range []C.CUdevice_attribute{
		C.CU_DEVICE_ATTRIBUTE_MAX_GRID_DIM_X,
		C.CU_DEVICE_ATTRIBUTE_MAX_GRID_DIM_Y,
		C.CU_DEVICE_ATTRIBUTE_MAX_GRID_DIM_Z,
	} {
		if err := check("cuDeviceGetAttribute", C.cuDeviceGetAttribute(&grid[i], attr, dev)); err != nil {
			return nil, err
		}
	}

	d := &Driver{
		name:    C.GoString(&name[0]),
		maxGrid: stream.Dim3{X: uint32(grid[0]), Y: uint32(grid[1]), Z: uint32(grid[2])},
	}
	if err := check("cuCtxCreate", C.cuCtxCreate(&d.ctx, 0, dev)); err != nil {
		return nil, err
	}
	if err := check("cuStreamCreate", C.cuStreamCreate(&d.stream, C.uint(C.CU_STREAM_NON_BLOCKING))); err != nil {
		C.cuCtxDestroy(d.ctx)
		return nil, err
	}
	return d, nil
}

// bind makes the driver's context current on the calling thread. Callers
// hold d.mu.
func (d *Driver) bind() error {
	if d.closed {
		return fmt.Errorf("cuda: driver closed")
	}
	return check("cuCtxSetCurrent", C.cuCtxSetCurrent(d.ctx))
}

// do runs fn with the context current on a locked OS thread.
func (d *Driver) do(fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.bind(); err != nil {
		return err
	}
	return fn()
}

// Name implements stream.Driver.
func (d *Driver) Name() string { return d.name }

// Target implements stream.Driver.
func (d *Driver) Target() compiler.Target { return compiler.TargetPTX }

// MaxGridDim implements stream.Driver with the device's grid attributes,
// (2^31-1, 65535, 65535) since compute capability 3.0.
func (d *Driver) MaxGridDim() stream.Dim3 { return d.maxGrid }

type module struct {
	d   *Driver
	mod C.CUmodule
}

func (m *module) Unload() error {
	return m.d.do(func() error {
		return check("cuModuleUnload", C.cuModuleUnload(m.mod))
	})
}

type function struct {
	name string
	fn   C.CUfunction
}

func (f *function) Name() string { return f.name }

// LoadModule implements stream.Driver. code is PTX text or a cubin.
func (d *Driver) LoadModule(code []byte) (stream.DriverModule, error) {
	m := &module{d: d}
	err := d.do(func() error {
		img := C.CBytes(append(append([]byte(nil), code...), 0))
		defer C.free(img)
		return check("cuModuleLoadData", C.cuModuleLoadData(&m.mod, img))
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Function implements stream.Driver.
func (d *Driver) Function(m stream.DriverModule, name string) (stream.DriverFunction, error) {
	cm, ok := m.(*module)
	if !ok {
		return nil, fmt.Errorf("cuda: module %T was not loaded by this driver", m)
	}
	f := &function{name: name}
	err := d.do(func() error {
		cname := C.CString(name)
		defer C.free(unsafe.Pointer(cname))
		r := C.cuModuleGetFunction(&f.fn, cm.mod, cname)
		if r == C.CUDA_ERROR_NOT_FOUND {
			return fmt.Errorf("%w: %s", stream.ErrKernelNotFound, name)
		}
		return check("cuModuleGetFunction", r)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Alloc implements stream.Driver.
func (d *Driver) Alloc(size uint64) (stream.DevicePtr, error) {
	var p C.CUdeviceptr
	err := d.do(func() error {
		return check("cuMemAlloc", C.cuMemAlloc(&p, C.size_t(size)))
	})
	return stream.DevicePtr(p), err
}

// Free implements stream.Driver.
func (d *Driver) Free(p stream.DevicePtr) error {
	return d.do(func() error {
		return check("cuMemFree", C.cuMemFree(C.CUdeviceptr(p)))
	})
}

// CopyHtoD implements stream.Driver. Pageable sources are staged by the
// driver before the call returns.
func (d *Driver) CopyHtoD(dst stream.DevicePtr, src []byte) error {
	if len(src) == 0 {
		return nil
	}
	return d.do(func() error {
		return check("cuMemcpyHtoDAsync",
			C.cuMemcpyHtoDAsync(C.CUdeviceptr(dst), unsafe.Pointer(&src[0]), C.size_t(len(src)), d.stream))
	})
}

// CopyDtoH implements stream.Driver.
func (d *Driver) CopyDtoH(dst []byte, src stream.DevicePtr) error {
	if len(dst) == 0 {
		return nil
	}
	return d.do(func() error {
		if err := check("cuStreamSynchronize", C.cuStreamSynchronize(d.stream)); err != nil {
			return err
		}
		return check("cuMemcpyDtoH",
			C.cuMemcpyDtoH(unsafe.Pointer(&dst[0]), C.CUdeviceptr(src), C.size_t(len(dst))))
	})
}

// CopyDtoD implements stream.Driver.
func (d *Driver) CopyDtoD(dst, src stream.DevicePtr, size uint64) error {
	return d.do(func() error {
		return check("cuMemcpyDtoDAsync",
			C.cuMemcpyDtoDAsync(C.CUdeviceptr(dst), C.CUdeviceptr(src), C.size_t(size), d.stream))
	})
}

// Launch implements stream.Driver. Each argument is passed to the kernel
// as two 64-bit parameters: the device pointer and its size in bytes.
func (d *Driver) Launch(fn stream.DriverFunction, grid, block stream.Dim3, args []stream.KernelArg) error {
	cf, ok := fn.(*function)
	if !ok {
		return fmt.Errorf("cuda: function %T was not loaded by this driver", fn)
	}
	return d.do(func() error {
		n := 2 * len(args)
		var vals *C.ulonglong
		if n > 0 {
			vals = (*C.ulonglong)(C.malloc(C.size_t(n) * C.size_t(unsafe.Sizeof(C.ulonglong(0)))))
			if vals == nil {
				return fmt.Errorf("cuda: out of host memory for %d kernel parameters", n)
			}
			defer C.free(unsafe.Pointer(vals))
			vs := unsafe.Slice(vals, n)
			for i, a := range args {
				vs[2*i] = C.ulonglong(a.Ptr)
				vs[2*i+1] = C.ulonglong(a.Size)
			}
		}
		return check("cuLaunchKernel", C.launch(cf.fn,
			C.uint(grid.X), C.uint(grid.Y), C.uint(grid.Z),
			C.uint(block.X), C.uint(block.Y), C.uint(block.Z),
			d.stream, vals, C.int(n)))
	})
}

// Synchronize implements stream.Driver.
func (d *Driver) Synchronize() error {
	return d.do(func() error {
		return check("cuStreamSynchronize", C.cuStreamSynchronize(d.stream))
	})
}

// Close implements stream.Driver.
func (d *Driver) Close() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	err := d.bind()
	if err == nil {
		err = check("cuStreamSynchronize", C.cuStreamSynchronize(d.stream))
		C.cuStreamDestroy(d.stream)
	}
	C.cuCtxDestroy(d.ctx)
	d.closed = true
	return err
}
