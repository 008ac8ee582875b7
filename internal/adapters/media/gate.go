package media

import (
	"image"
	"sync"

	"github.com/pion/mediadevices/pkg/wave"
)

var noRelease = func() {}

// blackFrames caches one black frame per size; a disabled camera keeps
// sending these so the encoder and the remote renderer stay alive.
type blackFrames struct {
	mu     sync.Mutex
	frames map[image.Rectangle]*image.YCbCr
}

func (b *blackFrames) get(r image.Rectangle) image.Image {
	b.mu.Lock()
	defer b.mu.Unlock()
	if f, ok := b.frames[r]; ok {
		return f
	}
	if b.frames == nil {
		b.frames = make(map[image.Rectangle]*image.YCbCr)
	}
	f := image.NewYCbCr(r, image.YCbCrSubsampleRatio420)
	for i := range f.Cb {
		f.Cb[i] = 128
	}
	for i := range f.Cr {
		f.Cr[i] = 128
	}
	b.frames[r] = f
	return f
}

// silence returns a zeroed chunk shaped like chunk.
func silence(chunk wave.Audio) wave.Audio {
	info := chunk.ChunkInfo()
	switch chunk.(type) {
	case *wave.Float32Interleaved:
		return wave.NewFloat32Interleaved(info)
	case *wave.Float32NonInterleaved:
		return wave.NewFloat32NonInterleaved(info)
	case *wave.Int16NonInterleaved:
		return wave.NewInt16NonInterleaved(info)
	}
	return wave.NewInt16Interleaved(info)
}
