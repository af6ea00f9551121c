package guest

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
)

// ErrUnsupportedBinary is returned for ELF files the guest cannot run.
var ErrUnsupportedBinary = errors.New("guest: unsupported binary")

// Segment is one mapped PT_LOAD segment.
type Segment struct {
	Addr   uint64
	Size   uint64 // memory size; the tail beyond the file data is zero
	Flags  elf.ProgFlag
	Loaded uint64 // bytes copied from the file
}

// Image describes a loaded program.
type Image struct {
	Entry    uint64
	Segments []Segment
}

// LoadELF maps the PT_LOAD segments of a 64-bit x86-64 executable into mem.
func LoadELF(f *elf.File, mem *Memory) (*Image, error) {
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_X86_64 {
		return nil, fmt.Errorf("%w: %s %s", ErrUnsupportedBinary, f.Class, f.Machine)
	}
	if f.Type != elf.ET_EXEC {
		return nil, fmt.Errorf("%w: %s, want a static executable", ErrUnsupportedBinary, f.Type)
	}

	img := &Image{Entry: f.Entry}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		if p.Filesz > p.Memsz {
			return nil, fmt.Errorf("segment at 0x%x: file size %d exceeds memory size %d", p.Vaddr, p.Filesz, p.Memsz)
		}
		mem.Map(p.Vaddr, p.Memsz)

		data := make([]byte, p.Filesz)
		if _, err := io.ReadFull(p.Open(), data); err != nil {
			return nil, fmt.Errorf("segment at 0x%x: %w", p.Vaddr, err)
		}
		if err := mem.Write(p.Vaddr, data); err != nil {
			return nil, err
		}
		img.Segments = append(img.Segments, Segment{Addr: p.Vaddr, Size: p.Memsz, Flags: p.Flags, Loaded: p.Filesz})
	}
	if len(img.Segments) == 0 {
		return nil, fmt.Errorf("%w: no loadable segments", ErrUnsupportedBinary)
	}
	if !mem.Mapped(img.Entry) {
		return nil, fmt.Errorf("%w: entry 0x%x is not mapped", ErrUnsupportedBinary, img.Entry)
	}
	return img, nil
}

// Open loads the executable at path into mem.
func Open(path string, mem *Memory) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadELF(f, mem)
}
