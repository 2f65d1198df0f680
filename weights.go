package neuralstyle

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"

	"github.com/pkg/errors"
)

// LayerRecord is one stored layer of the pretrained network. Weights and Bias
// are only set for convolutions; Shape is (kh, kw, in, out).
type LayerRecord struct {
	Name    string
	Type    string // conv, relu, pool or softmax
	Shape   [4]int
	Weights []float64
	Bias    []float64
}

// WeightSource gives positional access to stored layers.
type WeightSource interface {
	NumLayers() int
	Layer(i int) (LayerRecord, error)
}

// Weights is an immutable in-memory set of layer records.
type Weights struct {
	records []LayerRecord
}

// NewWeights copies records, so later changes to them do not reach the
// returned Weights.
func NewWeights(records []LayerRecord) *Weights {
	w := &Weights{records: slices.Clone(records)}
	for i := range w.records {
		w.records[i].Weights = slices.Clone(records[i].Weights)
		w.records[i].Bias = slices.Clone(records[i].Bias)
	}
	return w
}

func (w *Weights) NumLayers() int {
	return len(w.records)
}

// Layer returns a copy of record i so callers cannot modify the stored weights.
func (w *Weights) Layer(i int) (LayerRecord, error) {
	if i < 0 || i >= len(w.records) {
		return LayerRecord{}, errors.Errorf("weights: layer %d out of range [0,%d)", i, len(w.records))
	}
	r := w.records[i]
	r.Weights = slices.Clone(r.Weights)
	r.Bias = slices.Clone(r.Bias)
	return r, nil
}

// ============ SAFETENSORS ============

// The weight file is a safetensors file. Layer i stores its kernel as
// "layers.<i>.weight" (3, 3, in, out) and its bias as "layers.<i>.bias";
// names and types live in the header metadata.

type tensorInfo struct {
	DType   string `json:"dtype"`
	Shape   []int  `json:"shape"`
	Offsets [2]int `json:"data_offsets"`
}

func LoadWeights(path string) (*Weights, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "weights: open")
	}
	defer f.Close()
	w, err := ReadWeights(f)
	if err != nil {
		return nil, errors.Wrapf(err, "weights: %s", path)
	}
	return w, nil
}

func ReadWeights(r io.Reader) (*Weights, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, errors.Wrap(err, "read header size")
	}
	if headerSize > 100<<20 {
		return nil, errors.Errorf("header size %d too large", headerSize)
	}
	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, errors.Wrap(err, "parse header")
	}
	meta := map[string]string{}
	if m, ok := raw["__metadata__"]; ok {
		if err := json.Unmarshal(m, &meta); err != nil {
			return nil, errors.Wrap(err, "parse metadata")
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read data")
	}

	count, err := strconv.Atoi(meta["layers.count"])
	if err != nil || count < 0 {
		return nil, errors.Errorf("invalid layers.count %q", meta["layers.count"])
	}
	records := make([]LayerRecord, count)
	for i := range count {
		key := fmt.Sprintf("layers.%d", i)
		rec := LayerRecord{Name: meta[key+".name"], Type: meta[key+".type"]}
		if rec.Name == "" || rec.Type == "" {
			return nil, errors.Errorf("layer %d: missing name or type", i)
		}
		if rawW, ok := raw[key+".weight"]; ok {
			shape, vals, err := decodeTensor(rawW, data)
			if err != nil {
				return nil, errors.Wrapf(err, "layer %d weight", i)
			}
			if len(shape) != 4 {
				return nil, errors.Errorf("layer %d: weight has rank %d, want 4", i, len(shape))
			}
			rec.Shape = [4]int{shape[0], shape[1], shape[2], shape[3]}
			rec.Weights = vals
		}
		if rawB, ok := raw[key+".bias"]; ok {
			_, vals, err := decodeTensor(rawB, data)
			if err != nil {
				return nil, errors.Wrapf(err, "layer %d bias", i)
			}
			rec.Bias = vals
		}
		records[i] = rec
	}
	return &Weights{records: records}, nil
}

func decodeTensor(rawInfo json.RawMessage, data []byte) ([]int, []float64, error) {
	var info tensorInfo
	if err := json.Unmarshal(rawInfo, &info); err != nil {
		return nil, nil, errors.Wrap(err, "parse tensor info")
	}
	n := 1
	for _, d := range info.Shape {
		if d < 0 {
			return nil, nil, errors.Errorf("negative dimension in shape %v", info.Shape)
		}
		n *= d
	}
	size := dtypeSize(info.DType)
	if size == 0 {
		return nil, nil, errors.Errorf("unsupported dtype %s", info.DType)
	}
	start, end := info.Offsets[0], info.Offsets[1]
	if start < 0 || end > len(data) || end-start != n*size {
		return nil, nil, errors.Errorf("data offsets %v do not fit %d %s values", info.Offsets, n, info.DType)
	}
	buf := data[start:end]
	vals := make([]float64, n)
	for i := range n {
		b := buf[i*size : (i+1)*size]
		switch info.DType {
		case "F64":
			vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(b))
		case "F32":
			vals[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case "F16":
			vals[i] = float16ToFloat64(binary.LittleEndian.Uint16(b))
		case "BF16":
			vals[i] = float64(math.Float32frombits(uint32(binary.LittleEndian.Uint16(b)) << 16))
		}
	}
	return info.Shape, vals, nil
}

func dtypeSize(dtype string) int {
	switch dtype {
	case "F64":
		return 8
	case "F32":
		return 4
	case "F16", "BF16":
		return 2
	}
	return 0
}

func float16ToFloat64(h uint16) float64 {
	sign := 1.0
	if h&0x8000 != 0 {
		sign = -1
	}
	exp := int(h>>10) & 0x1f
	frac := float64(h & 0x3ff)
	switch exp {
	case 0:
		return sign * math.Ldexp(frac, -24)
	case 0x1f:
		if frac != 0 {
			return math.NaN()
		}
		return math.Inf(int(sign))
	}
	return sign * math.Ldexp(1+frac/1024, exp-15)
}

func SaveWeights(path string, src WeightSource) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "weights: create")
	}
	if err := WriteWeights(f, src); err != nil {
		f.Close()
		return errors.Wrapf(err, "weights: %s", path)
	}
	return errors.Wrap(f.Close(), "weights: close")
}

// WriteWeights serializes every layer of src as F32 tensors.
func WriteWeights(w io.Writer, src WeightSource) error {
	meta := map[string]string{"layers.count": strconv.Itoa(src.NumLayers())}
	header := map[string]any{}
	var data bytes.Buffer
	put := func(name string, shape []int, vals []float64) {
		start := data.Len()
		for _, v := range vals {
			binary.Write(&data, binary.LittleEndian, float32(v))
		}
		header[name] = tensorInfo{DType: "F32", Shape: shape, Offsets: [2]int{start, data.Len()}}
	}
	for i := range src.NumLayers() {
		rec, err := src.Layer(i)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("layers.%d", i)
		meta[key+".name"] = rec.Name
		meta[key+".type"] = rec.Type
		if rec.Weights != nil {
			put(key+".weight", rec.Shape[:], rec.Weights)
		}
		if rec.Bias != nil {
			put(key+".bias", []int{len(rec.Bias)}, rec.Bias)
		}
	}
	header["__metadata__"] = meta
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "marshal header")
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return errors.Wrap(err, "write header size")
	}
	if _, err := w.Write(headerJSON); err != nil {
		return errors.Wrap(err, "write header")
	}
	_, err = w.Write(data.Bytes())
	return errors.Wrap(err, "write data")
}
