package postprocess

import (
	"github.com/nvr-ai/go-nms/images"
	"github.com/pkg/errors"
)

// RowWidth is the number of values in one packed detection row:
// label, score, xmin, ymin, xmax, ymax.
const RowWidth = 6

// Packed is the flat output of a batch.
type Packed struct {
	// Rows holds RowWidth values per row, images one after the other.
	Rows []float32 `json:"rows" yaml:"rows"`
	// Counts holds the number of real detections per image.
	Counts []int `json:"counts" yaml:"counts"`
	// LoD holds the row offset of each image, plus the total row count at the end.
	// Image i owns rows [LoD[i], LoD[i+1]); a sentinel image owns one row.
	LoD []int `json:"lod" yaml:"lod"`
}

// Pack serializes image results into flat rows, preserving their detection order.
//
// Arguments:
//   - results: The per-image results in batch order.
//
// Returns:
//   - The packed rows, counts and offsets.
//   - The error of the first failed image, if any.
func Pack(results []ImageResult) (Packed, error) {
	total := 0
	for i, r := range results {
		if r.Err != nil {
			return Packed{}, errors.Wrapf(r.Err, "image %d cannot be packed", i)
		}
		total += len(r.Detections)
	}

	p := Packed{
		Rows:   make([]float32, 0, total*RowWidth),
		Counts: make([]int, len(results)),
		LoD:    make([]int, len(results)+1),
	}
	for i, r := range results {
		for _, d := range r.Detections {
			p.Rows = append(p.Rows,
				float32(d.Label), d.Score,
				d.Box.XMin, d.Box.YMin, d.Box.XMax, d.Box.YMax)
		}
		p.Counts[i] = r.Count
		p.LoD[i+1] = p.LoD[i] + len(r.Detections)
	}
	return p, nil
}

// NumRows returns the number of rows in p.
func (p Packed) NumRows() int {
	return len(p.Rows) / RowWidth
}

// Unpack reads the rows back into per-image detections, dropping sentinel rows.
//
// Returns:
//   - One slice of detections per image.
//   - ErrShapeMismatch when the offsets do not match the rows.
func (p Packed) Unpack() ([][]Detection, error) {
	if len(p.Rows)%RowWidth != 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d values is not a whole number of rows", len(p.Rows))
	}
	if len(p.LoD) == 0 || p.LoD[0] != 0 || p.LoD[len(p.LoD)-1] != p.NumRows() {
		return nil, errors.Wrapf(ErrShapeMismatch, "lod %v does not cover %d rows", p.LoD, p.NumRows())
	}

	for i := 1; i < len(p.LoD); i++ {
		if p.LoD[i-1] > p.LoD[i] {
			return nil, errors.Wrapf(ErrShapeMismatch, "lod %v is not monotonic", p.LoD)
		}
	}

	out := make([][]Detection, len(p.LoD)-1)
	for i := range out {
		start, end := p.LoD[i], p.LoD[i+1]
		dets := make([]Detection, 0, end-start)
		for r := start; r < end; r++ {
			row := p.Rows[r*RowWidth : (r+1)*RowWidth]
			d := Detection{
				Label: int(row[0]),
				Score: row[1],
				Box:   images.Box{XMin: row[2], YMin: row[3], XMax: row[4], YMax: row[5]},
			}
			if d.IsSentinel() {
				continue
			}
			dets = append(dets, d)
		}
		out[i] = dets
	}
	return out, nil
}
