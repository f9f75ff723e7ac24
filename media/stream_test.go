package media

import "testing"

func TestStreamPropertyValidity(t *testing.T) {
	t.Parallel()

	var zero StreamProperty
	if zero.IsValid() {
		t.Error("zero property valid")
	}

	p := StreamProperty{Type: StreamTypeFrame, Width: 1280, Height: 720, CodecOrFormat: "nv12"}
	if !p.IsValid() {
		t.Error("frame property invalid")
	}
	p.Width = 0
	if p.IsValid() {
		t.Error("zero-width property valid")
	}
}

func TestStreamPropertyEqualAndHash(t *testing.T) {
	t.Parallel()

	a := StreamProperty{Type: StreamTypeSample, Width: 1920, Height: 1080, CodecOrFormat: "h264"}
	b := a
	if !a.Equal(b) || a.Hash() != b.Hash() {
		t.Error("identical properties differ")
	}

	variants := []StreamProperty{
		{Type: StreamTypeFrame, Width: 1920, Height: 1080, CodecOrFormat: "h264"},
		{Type: StreamTypeSample, Width: 1280, Height: 1080, CodecOrFormat: "h264"},
		{Type: StreamTypeSample, Width: 1920, Height: 720, CodecOrFormat: "h264"},
		{Type: StreamTypeSample, Width: 1920, Height: 1080, CodecOrFormat: "h265"},
	}
	for i, v := range variants {
		if a.Equal(v) {
			t.Errorf("variant %d equal to base", i)
		}
		if a.Hash() == v.Hash() {
			t.Errorf("variant %d collides with base", i)
		}
	}
}

func TestStreamConfigurationFrameRates(t *testing.T) {
	t.Parallel()

	c := StreamConfiguration{
		Property:   StreamProperty{Type: StreamTypeFrame, Width: 640, Height: 480, CodecOrFormat: "nv12"},
		FrameRates: []float64{24, 29.97, 30, 60},
	}
	if !c.SupportsFrameRate(29.97) || !c.SupportsFrameRate(60) {
		t.Error("listed rate not supported")
	}
	if c.SupportsFrameRate(25) {
		t.Error("unlisted rate supported")
	}
	if (StreamConfiguration{}).SupportsFrameRate(30) {
		t.Error("empty configuration supports a rate")
	}
}
