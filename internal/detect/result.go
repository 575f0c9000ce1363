package detect

import (
	"fmt"

	"easytalking/internal/overlay"
	"easytalking/internal/tensor"
)

// OutputIndices are the positions of boxes, classes and scores in the
// model output list
type OutputIndices struct {
	Boxes   int
	Classes int
	Scores  int
}

// Extract reads the first batch entry of boxes [1,N,4], classes [1,N] and
// scores [1,N] into plain slices that outlive the tensors
func Extract(outputs []*tensor.Tensor, idx OutputIndices) (overlay.Detections, error) {
	for _, i := range []int{idx.Boxes, idx.Classes, idx.Scores} {
		if i < 0 || i >= len(outputs) {
			return overlay.Detections{}, fmt.Errorf("output index %d out of range (%d outputs)", i, len(outputs))
		}
	}

	boxShape := outputs[idx.Boxes].Shape()
	if len(boxShape) == 0 || boxShape[len(boxShape)-1] != 4 {
		return overlay.Detections{}, fmt.Errorf("boxes output has shape %v, want [1,N,4]", boxShape)
	}
	rawBoxes, err := outputs[idx.Boxes].Float32s()
	if err != nil {
		return overlay.Detections{}, err
	}
	classes, err := outputs[idx.Classes].Float32s()
	if err != nil {
		return overlay.Detections{}, err
	}
	scores, err := outputs[idx.Scores].Float32s()
	if err != nil {
		return overlay.Detections{}, err
	}

	n := len(rawBoxes) / 4
	if len(classes) < n {
		n = len(classes)
	}
	if len(scores) < n {
		n = len(scores)
	}

	d := overlay.Detections{
		Boxes:   make([][4]float32, n),
		Classes: make([]int, n),
		Scores:  make([]float32, n),
	}
	for i := 0; i < n; i++ {
		copy(d.Boxes[i][:], rawBoxes[i*4:i*4+4])
		d.Classes[i] = int(classes[i])
		d.Scores[i] = scores[i]
	}
	return d, nil
}
