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

package loader

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"trapgate.dev/trapgate/pkg/errors/linuxerr"
	"trapgate.dev/trapgate/pkg/hostarch"
	"trapgate.dev/trapgate/pkg/log"
	"trapgate.dev/trapgate/pkg/sentry/kernel"
)

// Process is a loaded program ready to run.
type Process struct {
	*kernel.Process

	// Image is the program image.
	Image *Image

	// SP is the initial stack pointer.
	SP hostarch.Addr

	// Env resolves the program's symbolic arguments.
	Env *Env
}

// Runner runs a loaded program to completion.
type Runner interface {
	Run(ctx context.Context, k *kernel.Kernel, p *Process) error
}

// Registry is the set of programs that can be executed. It implements
// kernel.Loader.
type Registry struct {
	runner Runner

	mu     sync.RWMutex
	images map[string]*Image
}

// NewRegistry returns an empty Registry that runs processes with runner.
func NewRegistry(runner Runner) *Registry {
	return &Registry{
		runner: runner,
		images: make(map[string]*Image),
	}
}

// Register lays out p and makes it executable by name.
func (r *Registry) Register(p *Program) error {
	img, err := Layout(p)
	if err != nil {
		return fmt.Errorf("program %q: %w", p.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.images[p.Name]; ok {
		return fmt.Errorf("program %q registered twice", p.Name)
	}
	r.images[p.Name] = img
	return nil
}

// Names returns the registered program names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.images))
	for n := range r.images {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Load creates a process for cmdline without starting it.
func (r *Registry) Load(k *kernel.Kernel, parent *kernel.Process, cmdline string) (*Process, error) {
	argv := strings.Fields(cmdline)
	if len(argv) == 0 {
		return nil, linuxerr.ENOEXEC
	}
	r.mu.RLock()
	img, ok := r.images[argv[0]]
	r.mu.RUnlock()
	if !ok {
		return nil, linuxerr.ENOENT
	}
	as, sp, argvAddrs, err := img.Load(argv)
	if err != nil {
		return nil, err
	}

	env := &Env{
		Labels: make(map[string]uint32, len(img.Labels)),
		Argv:   argv,
		Vars:   make(map[string]uint32),
	}
	for l, a := range img.Labels {
		env.Labels[l] = uint32(a)
	}
	for _, a := range argvAddrs {
		env.ArgvAddrs = append(env.ArgvAddrs, uint32(a))
	}
	return &Process{
		Process: k.NewProcess(parent, argv[0], argv, as),
		Image:   img,
		SP:      sp,
		Env:     env,
	}, nil
}

// Spawn implements kernel.Loader.Spawn.
func (r *Registry) Spawn(ctx context.Context, k *kernel.Kernel, parent *kernel.Process, cmdline string) (*kernel.Process, error) {
	p, err := r.Load(k, parent, cmdline)
	if err != nil {
		log.Debugf("exec %q: %v", cmdline, err)
		return nil, err
	}
	// The child outlives the syscall that created it.
	runCtx := context.WithoutCancel(ctx)
	k.Start(p.Process, func() error {
		return r.runner.Run(runCtx, k, p)
	})
	return p.Process, nil
}
