package artifact

// Decoder registrations for the formats workers are known to upload. WebP
// itself is included so resubmitted artifacts round-trip.
import (
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)
