package pointcloud

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

const (
	// binFieldCount is the number of float32 values per point in a lidar .pcd.bin file:
	// x, y, z, intensity and ring index.
	binFieldCount = 5
	binPointSize  = binFieldCount * 4
)

// NewFromFile decodes the point cloud stored at path. Files ending in .bin are lidar sweeps,
// files ending in .pcd are binary or ascii PCD files as written by the radars.
func NewFromFile(path string) (*PointCloud, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening point cloud file")
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	switch {
	case strings.HasSuffix(path, ".bin"):
		pc, err := ReadBin(bufio.NewReader(f))
		return pc, errors.Wrapf(err, "error reading %v", path)
	case strings.HasSuffix(path, ".pcd"):
		pc, err := ReadPCD(bufio.NewReader(f))
		return pc, errors.Wrapf(err, "error reading %v", path)
	default:
		return nil, errors.Errorf("unsupported point cloud file %v", path)
	}
}

// ReadBin decodes little-endian float32 records of x, y, z, intensity and ring index.
func ReadBin(r io.Reader) (*PointCloud, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data)%binPointSize != 0 {
		return nil, errors.Errorf("corrupt point cloud: %d bytes is not a multiple of %d", len(data), binPointSize)
	}
	n := len(data) / binPointSize
	points := make([]r3.Vector, n)
	intensity := make([]float64, n)
	ring := make([]float64, n)
	for i := 0; i < n; i++ {
		rec := data[i*binPointSize:]
		field := func(j int) float64 {
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[j*4:])))
		}
		points[i] = r3.Vector{X: field(0), Y: field(1), Z: field(2)}
		intensity[i] = field(3)
		ring[i] = field(4)
	}
	return &PointCloud{
		Points:   points,
		Channels: map[string][]float64{ChannelIntensity: intensity, ChannelRing: ring},
	}, nil
}

// WriteBin encodes pc in the lidar .pcd.bin layout. Missing channels are written as zero.
func WriteBin(w io.Writer, pc *PointCloud) error {
	buf := make([]byte, binPointSize)
	intensity := pc.Channels[ChannelIntensity]
	ring := pc.Channels[ChannelRing]
	for i, p := range pc.Points {
		values := [binFieldCount]float64{p.X, p.Y, p.Z}
		if intensity != nil {
			values[3] = intensity[i]
		}
		if ring != nil {
			values[4] = ring[i]
		}
		for j, v := range values {
			binary.LittleEndian.PutUint32(buf[j*4:], math.Float32bits(float32(v)))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

type pcdField struct {
	name   string
	size   int
	kind   byte
	offset int
}

type pcdHeader struct {
	fields []pcdField
	points int
	data   string
	stride int
}

func parsePCDHeader(in *bufio.Reader) (pcdHeader, error) {
	var header pcdHeader
	var names []string
	var sizes []int
	var kinds []string
	width, height := -1, 1
	for {
		line, err := in.ReadString('\n')
		if err != nil {
			return header, errors.Wrap(err, "pcd header ended early")
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		key, values := strings.ToUpper(parts[0]), parts[1:]
		switch key {
		case "FIELDS":
			names = values
		case "SIZE":
			for _, v := range values {
				s, err := strconv.Atoi(v)
				if err != nil {
					return header, errors.Wrapf(err, "bad pcd SIZE %q", v)
				}
				sizes = append(sizes, s)
			}
		case "TYPE":
			kinds = values
		case "COUNT":
			for _, v := range values {
				if v != "1" {
					return header, errors.Errorf("pcd COUNT %v is not supported", v)
				}
			}
		case "WIDTH", "HEIGHT", "POINTS":
			if len(values) != 1 {
				return header, errors.Errorf("bad pcd %v line %q", key, line)
			}
			v, err := strconv.Atoi(values[0])
			if err != nil {
				return header, errors.Wrapf(err, "bad pcd %v", key)
			}
			switch key {
			case "WIDTH":
				width = v
			case "HEIGHT":
				height = v
			default:
				header.points = v
			}
		case "DATA":
			if len(values) != 1 {
				return header, errors.Errorf("bad pcd DATA line %q", line)
			}
			header.data = values[0]
			if len(names) == 0 || len(names) != len(sizes) || len(names) != len(kinds) {
				return header, errors.New("pcd FIELDS, SIZE and TYPE disagree")
			}
			if header.points == 0 && width >= 0 {
				header.points = width * height
			}
			for i, name := range names {
				kind := strings.ToUpper(kinds[i])
				if kind != "F" && kind != "I" && kind != "U" {
					return header, errors.Errorf("pcd TYPE %v is not supported", kinds[i])
				}
				header.fields = append(header.fields, pcdField{name: name, size: sizes[i], kind: kind[0], offset: header.stride})
				header.stride += sizes[i]
			}
			return header, nil
		}
	}
}

func (f pcdField) decode(b []byte) (float64, error) {
	switch {
	case f.kind == 'F' && f.size == 4:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case f.kind == 'F' && f.size == 8:
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	case f.kind == 'I' && f.size == 1:
		return float64(int8(b[0])), nil
	case f.kind == 'I' && f.size == 2:
		return float64(int16(binary.LittleEndian.Uint16(b))), nil
	case f.kind == 'I' && f.size == 4:
		return float64(int32(binary.LittleEndian.Uint32(b))), nil
	case f.kind == 'U' && f.size == 1:
		return float64(b[0]), nil
	case f.kind == 'U' && f.size == 2:
		return float64(binary.LittleEndian.Uint16(b)), nil
	case f.kind == 'U' && f.size == 4:
		return float64(binary.LittleEndian.Uint32(b)), nil
	default:
		return 0, errors.Errorf("pcd field %v of type %c and size %d is not supported", f.name, f.kind, f.size)
	}
}

// ReadPCD decodes a PCD file with scalar fields. The x, y and z fields become the point
// positions; every other field becomes an auxiliary channel.
func ReadPCD(r io.Reader) (*PointCloud, error) {
	in, ok := r.(*bufio.Reader)
	if !ok {
		in = bufio.NewReader(r)
	}
	header, err := parsePCDHeader(in)
	if err != nil {
		return nil, err
	}
	index := map[string]int{}
	for i, f := range header.fields {
		index[f.name] = i
	}
	for _, axis := range []string{"x", "y", "z"} {
		if _, ok := index[axis]; !ok {
			return nil, errors.Errorf("pcd has no %v field", axis)
		}
	}

	rows := make([][]float64, 0, header.points)
	switch header.data {
	case "binary":
		rec := make([]byte, header.stride)
		for i := 0; i < header.points; i++ {
			if _, err := io.ReadFull(in, rec); err != nil {
				return nil, errors.Wrapf(err, "corrupt point cloud: point %d of %d", i, header.points)
			}
			row := make([]float64, len(header.fields))
			for j, f := range header.fields {
				if row[j], err = f.decode(rec[f.offset : f.offset+f.size]); err != nil {
					return nil, err
				}
			}
			rows = append(rows, row)
		}
	case "ascii":
		for i := 0; i < header.points; i++ {
			line, err := in.ReadString('\n')
			if err != nil && (err != io.EOF || strings.TrimSpace(line) == "") {
				return nil, errors.Wrapf(err, "corrupt point cloud: point %d of %d", i, header.points)
			}
			values := strings.Fields(line)
			if len(values) != len(header.fields) {
				return nil, errors.Errorf("corrupt point cloud: point %d has %d values", i, len(values))
			}
			row := make([]float64, len(values))
			for j, v := range values {
				if row[j], err = strconv.ParseFloat(v, 64); err != nil {
					return nil, errors.Wrapf(err, "corrupt point cloud: point %d", i)
				}
			}
			rows = append(rows, row)
		}
	default:
		return nil, errors.Errorf("pcd DATA %v is not supported", header.data)
	}

	pc := &PointCloud{Points: make([]r3.Vector, len(rows)), Channels: map[string][]float64{}}
	for _, f := range header.fields {
		if f.name != "x" && f.name != "y" && f.name != "z" {
			pc.Channels[f.name] = make([]float64, len(rows))
		}
	}
	for i, row := range rows {
		pc.Points[i] = r3.Vector{X: row[index["x"]], Y: row[index["y"]], Z: row[index["z"]]}
		for j, f := range header.fields {
			if values, ok := pc.Channels[f.name]; ok {
				values[i] = row[j]
			}
		}
	}
	return pc, nil
}
