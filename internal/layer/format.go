package layer

// Format enumerates the pixel formats a LayerBuffer can carry: the set a
// mobile display controller's pipes can source directly. Anything else
// must be pre-converted by the caller. RGB formats are grouped below
// FormatYCbCr420Planar and YUV formats at or above it, so pipe selection
// can classify a format with a single comparison (see IsYUV).
type Format int

const (
	FormatInvalid Format = iota

	FormatARGB8888
	FormatRGBA8888
	FormatBGRA8888
	FormatXRGB8888
	FormatRGBX8888
	FormatBGRX8888
	FormatRGBA5551
	FormatRGBA4444
	FormatRGB888
	FormatBGR888
	FormatRGB565
	FormatBGR565
	FormatRGBA8888Ubwc
	FormatRGBX8888Ubwc
	FormatBGR565Ubwc
	FormatRGBA1010102
	FormatARGB2101010
	FormatRGBX1010102
	FormatXRGB2101010
	FormatBGRA1010102
	FormatABGR2101010
	FormatBGRX1010102
	FormatXBGR2101010
	FormatRGBA1010102Ubwc
	FormatRGBX1010102Ubwc

	FormatYCbCr420Planar
	FormatYCrCb420Planar
	FormatYCrCb420PlanarStride16
	FormatYCbCr420SemiPlanar
	FormatYCrCb420SemiPlanar
	FormatYCbCr420SemiPlanarVenus
	FormatYCrCb420SemiPlanarVenus
	FormatYCbCr422H1V2SemiPlanar
	FormatYCrCb422H1V2SemiPlanar
	FormatYCbCr422H2V1SemiPlanar
	FormatYCrCb422H2V1SemiPlanar
	FormatYCbCr422H2V1Packed
	FormatYCbCr420SPVenusUbwc
	FormatYCbCr420P010
	FormatYCbCr420TP10Ubwc
)

var formatNames = map[Format]string{
	FormatARGB8888:                "ARGB8888",
	FormatRGBA8888:                "RGBA8888",
	FormatBGRA8888:                "BGRA8888",
	FormatXRGB8888:                "XRGB8888",
	FormatRGBX8888:                "RGBX8888",
	FormatBGRX8888:                "BGRX8888",
	FormatRGBA5551:                "RGBA5551",
	FormatRGBA4444:                "RGBA4444",
	FormatRGB888:                  "RGB888",
	FormatBGR888:                  "BGR888",
	FormatRGB565:                  "RGB565",
	FormatBGR565:                  "BGR565",
	FormatRGBA8888Ubwc:            "RGBA8888Ubwc",
	FormatRGBX8888Ubwc:            "RGBX8888Ubwc",
	FormatBGR565Ubwc:              "BGR565Ubwc",
	FormatRGBA1010102:             "RGBA1010102",
	FormatARGB2101010:             "ARGB2101010",
	FormatRGBX1010102:             "RGBX1010102",
	FormatXRGB2101010:             "XRGB2101010",
	FormatBGRA1010102:             "BGRA1010102",
	FormatABGR2101010:             "ABGR2101010",
	FormatBGRX1010102:             "BGRX1010102",
	FormatXBGR2101010:             "XBGR2101010",
	FormatRGBA1010102Ubwc:         "RGBA1010102Ubwc",
	FormatRGBX1010102Ubwc:         "RGBX1010102Ubwc",
	FormatYCbCr420Planar:          "YCbCr420Planar",
	FormatYCrCb420Planar:          "YCrCb420Planar",
	FormatYCrCb420PlanarStride16:  "YCrCb420PlanarStride16",
	FormatYCbCr420SemiPlanar:      "YCbCr420SemiPlanar",
	FormatYCrCb420SemiPlanar:      "YCrCb420SemiPlanar",
	FormatYCbCr420SemiPlanarVenus: "YCbCr420SemiPlanarVenus",
	FormatYCrCb420SemiPlanarVenus: "YCrCb420SemiPlanarVenus",
	FormatYCbCr422H1V2SemiPlanar:  "YCbCr422H1V2SemiPlanar",
	FormatYCrCb422H1V2SemiPlanar:  "YCrCb422H1V2SemiPlanar",
	FormatYCbCr422H2V1SemiPlanar:  "YCbCr422H2V1SemiPlanar",
	FormatYCrCb422H2V1SemiPlanar:  "YCrCb422H2V1SemiPlanar",
	FormatYCbCr422H2V1Packed:      "YCbCr422H2V1Packed",
	FormatYCbCr420SPVenusUbwc:     "YCbCr420SPVenusUbwc",
	FormatYCbCr420P010:            "YCbCr420P010",
	FormatYCbCr420TP10Ubwc:        "YCbCr420TP10Ubwc",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return "invalid"
}

// IsYUV reports whether the format requires the scaling (VIG) pipe class
// rather than an RGB-only pipe. YUV formats occupy the upper range of
// the enum so the check is a single comparison.
func (f Format) IsYUV() bool {
	return f >= FormatYCbCr420Planar
}

// IsUBWC reports whether the format is bandwidth-compressed; the stride
// of a UBWC plane is tile-aligned by the allocator and must never be
// recomputed from width.
func (f Format) IsUBWC() bool {
	switch f {
	case FormatRGBA8888Ubwc, FormatRGBX8888Ubwc, FormatBGR565Ubwc,
		FormatRGBA1010102Ubwc, FormatRGBX1010102Ubwc,
		FormatYCbCr420SPVenusUbwc, FormatYCbCr420TP10Ubwc:
		return true
	default:
		return false
	}
}

// BytesPerPixel is used by the marshalling path to recompute a plane's
// stride when the input buffer's own stride cannot be trusted (rotator
// and virtual-device output). YUV formats report the luma plane's sample
// size; chroma-plane stride is not modeled.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatARGB8888, FormatRGBA8888, FormatBGRA8888, FormatXRGB8888,
		FormatRGBX8888, FormatBGRX8888, FormatRGBA8888Ubwc, FormatRGBX8888Ubwc,
		FormatRGBA1010102, FormatARGB2101010, FormatRGBX1010102, FormatXRGB2101010,
		FormatBGRA1010102, FormatABGR2101010, FormatBGRX1010102, FormatXBGR2101010,
		FormatRGBA1010102Ubwc, FormatRGBX1010102Ubwc:
		return 4
	case FormatRGB888, FormatBGR888:
		return 3
	case FormatRGB565, FormatBGR565, FormatBGR565Ubwc, FormatRGBA5551,
		FormatRGBA4444, FormatYCbCr422H2V1Packed, FormatYCbCr420P010:
		return 2
	default:
		return 1
	}
}
