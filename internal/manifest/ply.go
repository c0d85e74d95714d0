package manifest

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"reconstructd/pkg/types"
)

// plyInfo is the metadata carried by a PLY header.
type plyInfo struct {
	Format      string
	VertexCount int
	FaceCount   int
	HasColors   bool
	HasNormals  bool
}

// readPLYHeader parses the header of a PLY file. Both ascii and binary
// variants share the same ascii header.
func readPLYHeader(path string) (plyInfo, error) {
	var info plyInfo
	f, err := os.Open(path)
	if err != nil {
		return info, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() || strings.TrimSpace(sc.Text()) != "ply" {
		return info, fmt.Errorf("%s: not a PLY file", path)
	}
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "end_header":
			return info, nil
		case "format":
			if len(fields) >= 2 {
				info.Format = fields[1]
			}
		case "element":
			if len(fields) >= 3 {
				n, err := strconv.Atoi(fields[2])
				if err != nil {
					return info, fmt.Errorf("%s: bad element count %q", path, fields[2])
				}
				switch fields[1] {
				case "vertex":
					info.VertexCount = n
				case "face":
					info.FaceCount = n
				}
			}
		case "property":
			name := fields[len(fields)-1]
			switch name {
			case "red", "green", "blue":
				info.HasColors = true
			case "nx", "ny", "nz":
				info.HasNormals = true
			}
		}
	}
	if err := sc.Err(); err != nil {
		return info, err
	}
	return info, fmt.Errorf("%s: end_header not found", path)
}

// scanBoundingBox computes the axis-aligned bounding box of an ascii PLY's
// vertices. Binary bodies return nil: header-only metadata is kept for those.
func scanBoundingBox(path string, info plyInfo) (*types.BoundingBox, error) {
	if info.Format != "ascii" || info.VertexCount == 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "end_header" {
			break
		}
	}
	var bb types.BoundingBox
	for i := 0; i < info.VertexCount && sc.Scan(); i++ {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			return nil, fmt.Errorf("%s: vertex %d has %d fields", path, i, len(fields))
		}
		var v [3]float64
		for j := 0; j < 3; j++ {
			v[j], err = strconv.ParseFloat(fields[j], 64)
			if err != nil {
				return nil, fmt.Errorf("%s: vertex %d: %v", path, i, err)
			}
		}
		if i == 0 {
			bb.Min, bb.Max = v, v
			continue
		}
		for j := 0; j < 3; j++ {
			if v[j] < bb.Min[j] {
				bb.Min[j] = v[j]
			}
			if v[j] > bb.Max[j] {
				bb.Max[j] = v[j]
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	for j := 0; j < 3; j++ {
		bb.Center[j] = (bb.Min[j] + bb.Max[j]) / 2
	}
	return &bb, nil
}
