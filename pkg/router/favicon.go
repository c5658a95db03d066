package router

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"sync"

	"github.com/n0x1m/rawhttpd/pkg/session"
)

// faviconSize matches the original's Service::httpGetFaviconIco, which
// rasterizes a fixed 256x256 PNG rather than shipping a binary asset.
const faviconSize = 256

var (
	faviconOnce  sync.Once
	faviconBytes []byte
)

// httpGetFaviconIco implements spec §3 Supplemented features: a
// synthetically generated PNG (a filled circle on a transparent
// background) served from memory, built once and cached since the image
// never changes across requests.
func (svc *Service) httpGetFaviconIco(s *session.Session) {
	faviconOnce.Do(func() {
		faviconBytes = renderFavicon()
	})
	s.ReplyImage(faviconBytes, "png", 200)
}

func renderFavicon() []byte {
	img := image.NewRGBA(image.Rect(0, 0, faviconSize, faviconSize))
	draw.Draw(img, img.Bounds(), image.Transparent, image.Point{}, draw.Src)

	center := float64(faviconSize) / 2
	radius := center * 0.8
	fill := color.RGBA{R: 0xcc, G: 0x00, B: 0x66, A: 0xff}

	for y := 0; y < faviconSize; y++ {
		for x := 0; x < faviconSize; x++ {
			dx := float64(x) - center
			dy := float64(y) - center
			if math.Hypot(dx, dy) <= radius {
				img.Set(x, y, fill)
			}
		}
	}

	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
