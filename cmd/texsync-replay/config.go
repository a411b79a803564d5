package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/texsync"
	"github.com/gogpu/texsync/memory"
)

const (
	defaultMemorySize = 1 << 24
	defaultPageSize   = memory.DefaultPageSize
)

// Step operations.
const (
	opWrite          = "write"
	opRead           = "read"
	opUnmap          = "unmap"
	opMap            = "map"
	opCheck          = "check"
	opUse            = "use"
	opModify         = "modify"
	opBind           = "bind"
	opUnbind         = "unbind"
	opCopyDependency = "copy_dependency"
	opReleaseView    = "release_view"
)

var errScenario = errors.New("invalid scenario")

type fileScenario struct {
	MemorySize uint64        `toml:"memory_size"`
	PageSize   uint64        `toml:"page_size"`
	Storages   []fileStorage `toml:"storage"`
	Views      []fileView    `toml:"view"`
	Steps      []fileStep    `toml:"step"`
}

type fileStorage struct {
	Name      string      `toml:"name"`
	Dimension string      `toml:"dimension"`
	Width     uint32      `toml:"width"`
	Height    uint32      `toml:"height"`
	Layers    uint32      `toml:"layers"`
	Levels    int         `toml:"levels"`
	Format    string      `toml:"format"`
	Address   uint64      `toml:"address"`
	Ranges    []fileRange `toml:"ranges"`
}

type fileRange struct {
	Address  uint64 `toml:"address"`
	Size     uint64 `toml:"size"`
	Unmapped bool   `toml:"unmapped"`
}

type fileView struct {
	Name       string `toml:"name"`
	Storage    string `toml:"storage"`
	FirstLayer int    `toml:"first_layer"`
	FirstLevel int    `toml:"first_level"`
	Layers     int    `toml:"layers"`
	Levels     int    `toml:"levels"`
}

type fileStep struct {
	Op            string `toml:"op"`
	Texture       string `toml:"texture"`
	Other         string `toml:"other"`
	Address       uint64 `toml:"address"`
	Size          uint64 `toml:"size"`
	Data          []int  `toml:"data"`
	Fill          int    `toml:"fill"`
	FirstLayer    int    `toml:"first_layer"`
	FirstLevel    int    `toml:"first_level"`
	CopyTo        bool   `toml:"copy_to"`
	ExpectDirty   *bool  `toml:"expect_dirty"`
	ExpectHandles *int   `toml:"expect_handles"`
	Expect        []int  `toml:"expect"`
}

// scenario is a decoded replay script.
type scenario struct {
	MemorySize uint64
	PageSize   uint64
	Storages   []storageSpec
	Views      []viewSpec
	Steps      []step
}

type storageSpec struct {
	Name   string
	Info   texsync.Info
	Ranges memory.MultiRange
}

type viewSpec struct {
	Name                   string
	Storage                string
	FirstLayer, FirstLevel int
	Layers, Levels         int
}

type step struct {
	Op                     string
	Texture, Other         string
	Address, Size          uint64
	Data                   []byte
	FirstLayer, FirstLevel int
	CopyTo                 bool
	ExpectDirty            *bool
	ExpectHandles          *int
	Expect                 []byte
}

func defaultScenario() scenario {
	return scenario{
		MemorySize: defaultMemorySize,
		PageSize:   defaultPageSize,
	}
}

func loadScenario(path string) (scenario, error) {
	sc := defaultScenario()

	var raw fileScenario
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return scenario{}, fmt.Errorf("load scenario: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return scenario{}, fmt.Errorf("%w: unknown key %q", errScenario, undecoded[0].String())
	}

	if meta.IsDefined("memory_size") {
		sc.MemorySize = raw.MemorySize
	}
	if meta.IsDefined("page_size") {
		sc.PageSize = raw.PageSize
	}

	names := make(map[string]bool)
	for _, fs := range raw.Storages {
		s, err := parseStorage(fs)
		if err != nil {
			return scenario{}, err
		}
		if names[s.Name] {
			return scenario{}, fmt.Errorf("%w: duplicate texture %q", errScenario, s.Name)
		}
		names[s.Name] = true
		sc.Storages = append(sc.Storages, s)
	}

	for _, fv := range raw.Views {
		v := viewSpec{
			Name:       strings.TrimSpace(fv.Name),
			Storage:    strings.TrimSpace(fv.Storage),
			FirstLayer: fv.FirstLayer,
			FirstLevel: fv.FirstLevel,
			Layers:     max(fv.Layers, 1),
			Levels:     max(fv.Levels, 1),
		}
		if v.Name == "" || names[v.Name] {
			return scenario{}, fmt.Errorf("%w: view name %q missing or duplicate", errScenario, v.Name)
		}
		if !names[v.Storage] {
			return scenario{}, fmt.Errorf("%w: view %q of unknown texture %q", errScenario, v.Name, v.Storage)
		}
		names[v.Name] = true
		sc.Views = append(sc.Views, v)
	}

	for i, fs := range raw.Steps {
		s, err := parseStep(fs)
		if err != nil {
			return scenario{}, fmt.Errorf("step %d: %w", i, err)
		}
		sc.Steps = append(sc.Steps, s)
	}

	return sc, nil
}

func parseStorage(fs fileStorage) (storageSpec, error) {
	name := strings.TrimSpace(fs.Name)
	if name == "" {
		return storageSpec{}, fmt.Errorf("%w: storage without name", errScenario)
	}

	dim, err := parseDimension(fs.Dimension)
	if err != nil {
		return storageSpec{}, err
	}
	format, err := parseFormat(fs.Format)
	if err != nil {
		return storageSpec{}, err
	}

	info := texsync.Info{
		Dimension: dim,
		Size: gputypes.Extent3D{
			Width:              fs.Width,
			Height:             max(fs.Height, 1),
			DepthOrArrayLayers: max(fs.Layers, 1),
		},
		Levels: max(fs.Levels, 1),
		Format: format,
	}
	layout, err := texsync.NewSizeInfo(info)
	if err != nil {
		return storageSpec{}, fmt.Errorf("storage %q: %w", name, err)
	}

	var ranges memory.MultiRange
	if len(fs.Ranges) > 0 {
		rs := make([]memory.Range, len(fs.Ranges))
		for i, fr := range fs.Ranges {
			rs[i] = memory.Range{Address: fr.Address, Size: fr.Size}
			if fr.Unmapped {
				rs[i].Address = memory.Unmapped
			}
		}
		ranges = memory.NewMultiRange(rs...)
	} else {
		ranges = memory.NewMultiRange(memory.Range{Address: fs.Address, Size: uint64(layout.TotalSize)})
	}

	return storageSpec{Name: name, Info: info, Ranges: ranges}, nil
}

func parseDimension(s string) (gputypes.TextureDimension, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1d":
		return gputypes.TextureDimension1D, nil
	case "", "2d":
		return gputypes.TextureDimension2D, nil
	case "3d":
		return gputypes.TextureDimension3D, nil
	}
	return 0, fmt.Errorf("%w: dimension %q", errScenario, s)
}

// lastFormat is the highest gputypes texture format value.
const lastFormat = gputypes.TextureFormatASTC12x12UnormSrgb

// parseFormat matches a format by its gputypes name, ignoring case.
func parseFormat(s string) (gputypes.TextureFormat, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return gputypes.TextureFormatRGBA8Unorm, nil
	}
	for f := gputypes.TextureFormat(1); f <= lastFormat; f++ {
		if strings.EqualFold(f.String(), s) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: format %q", errScenario, s)
}

func parseStep(fs fileStep) (step, error) {
	s := step{
		Op:            strings.ToLower(strings.TrimSpace(fs.Op)),
		Texture:       strings.TrimSpace(fs.Texture),
		Other:         strings.TrimSpace(fs.Other),
		Address:       fs.Address,
		Size:          fs.Size,
		FirstLayer:    fs.FirstLayer,
		FirstLevel:    fs.FirstLevel,
		CopyTo:        fs.CopyTo,
		ExpectDirty:   fs.ExpectDirty,
		ExpectHandles: fs.ExpectHandles,
	}

	var err error
	if s.Expect, err = toBytes(fs.Expect); err != nil {
		return step{}, err
	}

	switch s.Op {
	case opWrite:
		if s.Data, err = toBytes(fs.Data); err != nil {
			return step{}, err
		}
		if len(s.Data) == 0 {
			if s.Size == 0 {
				return step{}, fmt.Errorf("%w: write needs data or size", errScenario)
			}
			s.Data = make([]byte, s.Size)
			for i := range s.Data {
				s.Data[i] = byte(fs.Fill)
			}
		}
	case opRead:
		if s.Size == 0 {
			s.Size = uint64(len(s.Expect))
		}
		if s.Size == 0 {
			return step{}, fmt.Errorf("%w: read needs size or expect", errScenario)
		}
	case opUnmap, opMap:
		if s.Size == 0 {
			return step{}, fmt.Errorf("%w: %s needs size", errScenario, s.Op)
		}
	case opCheck, opUse, opModify, opBind, opUnbind, opReleaseView:
		if s.Texture == "" {
			return step{}, fmt.Errorf("%w: %s needs texture", errScenario, s.Op)
		}
	case opCopyDependency:
		if s.Texture == "" || s.Other == "" {
			return step{}, fmt.Errorf("%w: copy_dependency needs texture and other", errScenario)
		}
	default:
		return step{}, fmt.Errorf("%w: unknown op %q", errScenario, fs.Op)
	}

	return s, nil
}

func toBytes(in []int) ([]byte, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]byte, len(in))
	for i, v := range in {
		if v < 0 || v > 0xff {
			return nil, fmt.Errorf("%w: byte value %d", errScenario, v)
		}
		out[i] = byte(v)
	}
	return out, nil
}
