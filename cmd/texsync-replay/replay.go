package main

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/texsync/hostgpu"
	"github.com/gogpu/texsync/memory"
)

var errExpectation = errors.New("expectation failed")

// replayer runs a scenario against a software device.
type replayer struct {
	mem      *memory.PhysicalMemory
	dev      *hostgpu.Device
	textures map[string]*hostgpu.Texture
	out      *slog.Logger
}

func newReplayer(sc scenario, out *slog.Logger) (*replayer, error) {
	mem, err := memory.NewPhysicalMemory(sc.MemorySize, memory.WithPageSize(sc.PageSize))
	if err != nil {
		return nil, err
	}
	dev, err := hostgpu.OpenSoftware(mem)
	if err != nil {
		_ = mem.Close()
		return nil, err
	}

	r := &replayer{
		mem:      mem,
		dev:      dev,
		textures: make(map[string]*hostgpu.Texture),
		out:      out,
	}

	for _, s := range sc.Storages {
		tex, err := dev.NewStorage(s.Info, s.Ranges, hostgpu.WithLabel(s.Name))
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("storage %q: %w", s.Name, err)
		}
		r.textures[s.Name] = tex
	}
	for _, v := range sc.Views {
		view, err := r.textures[v.Storage].CreateView(v.FirstLayer, v.FirstLevel, v.Layers, v.Levels)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("view %q: %w", v.Name, err)
		}
		r.textures[v.Name] = view
	}

	return r, nil
}

// Close releases every texture, the device and the memory.
func (r *replayer) Close() {
	for _, tex := range r.textures {
		tex.Release()
	}
	if err := r.dev.Close(); err != nil {
		r.out.Warn("close device", "err", err)
	}
	if err := r.mem.Close(); err != nil {
		r.out.Warn("close memory", "err", err)
	}
}

// run executes steps in order and stops at the first failure.
func (r *replayer) run(steps []step) error {
	for i, s := range steps {
		if err := r.step(s); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, s.Op, err)
		}
	}
	return nil
}

func (r *replayer) texture(name string) (*hostgpu.Texture, error) {
	tex, ok := r.textures[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown texture %q", errScenario, name)
	}
	return tex, nil
}

func (r *replayer) step(s step) error {
	switch s.Op {
	case opWrite:
		if err := r.mem.Write(s.Address, s.Data); err != nil {
			return err
		}
		r.out.Info("write", "address", s.Address, "size", len(s.Data))
		return nil

	case opRead:
		got, err := r.mem.Read(s.Address, s.Size)
		if err != nil {
			return err
		}
		r.out.Info("read", "address", s.Address, "data", fmt.Sprintf("% x", got))
		if s.Expect != nil && !bytes.Equal(got[:min(len(got), len(s.Expect))], s.Expect) {
			return fmt.Errorf("%w: read % x, want % x", errExpectation, got, s.Expect)
		}
		return nil

	case opUnmap:
		return r.mem.Unmap(s.Address, s.Size)

	case opMap:
		return r.mem.Map(s.Address, s.Size)
	}

	tex, err := r.texture(s.Texture)
	if err != nil {
		return err
	}

	switch s.Op {
	case opCheck:
		dirty := tex.CheckDirty()
		r.out.Info("check", "texture", s.Texture, "dirty", dirty)
		if s.ExpectDirty != nil && *s.ExpectDirty != dirty {
			return fmt.Errorf("%w: dirty %v, want %v", errExpectation, dirty, *s.ExpectDirty)
		}
	case opUse:
		tex.Use()
	case opModify:
		tex.SignalModified(false)
	case opBind:
		tex.SignalModified(true)
	case opUnbind:
		tex.Unbind()
	case opCopyDependency:
		other, err := r.texture(s.Other)
		if err != nil {
			return err
		}
		if err := tex.CreateCopyDependency(other, s.FirstLayer, s.FirstLevel, s.CopyTo); err != nil {
			return err
		}
	case opReleaseView:
		if !tex.IsView() {
			return fmt.Errorf("%w: %q is not a view", errScenario, s.Texture)
		}
		tex.Release()
		delete(r.textures, s.Texture)
		r.out.Info("release_view", "texture", s.Texture)
		return nil
	}

	return r.report(s, tex)
}

// report logs the group state after a texture step and checks the
// handle count expectation.
func (r *replayer) report(s step, tex *hostgpu.Texture) error {
	g := tex.Group()
	layers, mips := g.Granularity()
	handles := g.HandleCount()

	dirty := 0
	modified := 0
	for _, span := range g.HandleSpans() {
		if span.Dirty {
			dirty++
		}
		if span.Modified {
			modified++
		}
	}

	r.out.Info(s.Op, "texture", s.Texture,
		"handles", handles, "dirtyHandles", dirty, "modifiedHandles", modified,
		"layerGranular", layers, "mipGranular", mips,
		"copyDependencies", g.HasCopyDependencies())

	if s.ExpectHandles != nil && *s.ExpectHandles != handles {
		return fmt.Errorf("%w: %d handles, want %d", errExpectation, handles, *s.ExpectHandles)
	}
	return nil
}
