package media

import (
	"bytes"
	"image"
	"image/jpeg"
	"strings"

	"github.com/disintegration/imaging"
)

// jpeg quality used for downscaled inbound images
const downscaleQuality = 85

// Downscale resizes an image so that neither dimension exceeds maxPixels,
// re-encoding as JPEG. Non-image data, undecodable images, and images already
// within bounds are returned unchanged. maxPixels <= 0 disables downscaling.
//
// This runs after the byte cap has been enforced on the wire; it only trims
// what gets stored and forwarded to the agent.
func Downscale(data []byte, mime string, maxPixels int) []byte {
	if maxPixels <= 0 || !strings.HasPrefix(mime, "image/") || mime == "image/gif" {
		return data
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}
	bounds := img.Bounds()
	if bounds.Dx() <= maxPixels && bounds.Dy() <= maxPixels {
		return data
	}

	resized := imaging.Fit(img, maxPixels, maxPixels, imaging.Lanczos)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: downscaleQuality}); err != nil {
		return data
	}
	return buf.Bytes()
}
