// Copyright 2026 The trapgate Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package boot assembles a kernel from a Config and runs programs on it.
package boot

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
	"trapgate.dev/trapgate/pkg/log"
	"trapgate.dev/trapgate/pkg/sentry/fs"
	"trapgate.dev/trapgate/pkg/sentry/fsimpl/hostfs"
	"trapgate.dev/trapgate/pkg/sentry/fsimpl/memfs"
	"trapgate.dev/trapgate/pkg/sentry/kernel"
	"trapgate.dev/trapgate/pkg/sentry/loader"
	"trapgate.dev/trapgate/pkg/sentry/platform/interp"
	"trapgate.dev/trapgate/pkg/sentry/strace"
	"trapgate.dev/trapgate/pkg/sentry/syscalls"
	"trapgate.dev/trapgate/pkg/sentry/syscalls/userprog"
	"trapgate.dev/trapgate/trapgate/config"
)

// Args are the arguments for New.
type Args struct {
	// Conf is the configuration. New keeps a copy.
	Conf *config.Config

	// Programs are the images exec can load.
	Programs []*loader.Program

	// Stdin and Stdout back the console. Either may be nil.
	Stdin  io.Reader
	Stdout io.Writer
}

// Loader owns a booted kernel.
type Loader struct {
	conf       *config.Config
	k          *kernel.Kernel
	registry   *loader.Registry
	cpu        *interp.Interpreter
	dispatcher *syscalls.Dispatcher
}

// Result is how an initial process ended.
type Result struct {
	// Name is the program name.
	Name string

	// Status is the exit status. It is meaningless if Halted is set.
	Status int32

	// Halted is set if the kernel powered off before the process exited.
	Halted bool
}

func newFilesystem(conf *config.Config) (fs.Filesystem, error) {
	switch conf.FS {
	case config.FSMemory:
		return memfs.New(memfs.Options{Capacity: conf.FSCapacity}), nil
	case config.FSHost:
		return hostfs.New(conf.Root, hostfs.Options{MaxFileSize: conf.FSCapacity})
	default:
		return nil, fmt.Errorf("unknown filesystem %v", conf.FS)
	}
}

// New boots a kernel with no processes.
func New(args Args) (*Loader, error) {
	conf := args.Conf.Copy()

	cpu := interp.New()
	registry := loader.NewRegistry(cpu)
	for _, p := range args.Programs {
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}

	strace.LogMaximumSize = conf.StraceLogSize
	tracer := strace.NewTracer(nil)
	if conf.Strace {
		if err := tracer.Enable(conf.StraceList()); err != nil {
			return nil, err
		}
	}

	filesystem, err := newFilesystem(conf)
	if err != nil {
		return nil, fmt.Errorf("creating filesystem: %w", err)
	}
	k := new(kernel.Kernel)
	if err := k.Init(kernel.InitKernelArgs{
		Filesystem: filesystem,
		Console:    kernel.NewConsole(args.Stdin, args.Stdout),
		Loader:     registry,
		Limits:     conf.Limits(),
	}); err != nil {
		filesystem.Release(context.Background())
		return nil, fmt.Errorf("initializing kernel: %w", err)
	}
	dispatcher := syscalls.NewDispatcher(userprog.UserProg, tracer)
	dispatcher.Register(k)

	log.Infof("Kernel booted: fs %s, %d programs", filesystem.Name(), len(args.Programs))
	return &Loader{
		conf:       conf,
		k:          k,
		registry:   registry,
		cpu:        cpu,
		dispatcher: dispatcher,
	}, nil
}

// Kernel returns the kernel.
func (l *Loader) Kernel() *kernel.Kernel {
	return l.k
}

// Dispatcher returns the syscall dispatcher.
func (l *Loader) Dispatcher() *syscalls.Dispatcher {
	return l.dispatcher
}

// Mismatches returns the number of program steps whose result differed from
// the one the program expected.
func (l *Loader) Mismatches() uint64 {
	return l.cpu.Mismatches()
}

// Run starts one initial process per command line, concurrently, and waits
// for each to exit or for the kernel to halt. Results are in cmdlines order.
func (l *Loader) Run(ctx context.Context, cmdlines []string) ([]Result, error) {
	results := make([]Result, len(cmdlines))
	g, gctx := errgroup.WithContext(ctx)
	for i, cmdline := range cmdlines {
		i, cmdline := i, cmdline
		g.Go(func() error {
			p, err := l.registry.Spawn(gctx, l.k, nil, cmdline)
			if err != nil {
				return fmt.Errorf("starting %q: %w", cmdline, err)
			}
			results[i].Name = p.Name()
			select {
			case <-p.ExitedCh():
				results[i].Status = p.ExitStatus()
			case <-l.k.Halted():
				// A process may exit and the kernel halt at once.
				if p.Exited() {
					results[i].Status = p.ExitStatus()
				} else {
					results[i].Halted = true
				}
			case <-gctx.Done():
				return gctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		l.k.PowerOff()
		return nil, err
	}
	return results, nil
}

// Destroy powers the kernel off, waits for every process goroutine and
// releases the filesystem.
func (l *Loader) Destroy(ctx context.Context) error {
	l.k.PowerOff()
	err := l.k.WaitIdle()
	if rerr := l.k.Release(ctx); err == nil {
		err = rerr
	}
	return err
}
