package compression

// HeaderID is a unique identifier of the compressor stored in the compressed stream header.
type HeaderID uint32

// defined header IDs.
const (
	headerZstdDefault           HeaderID = 0x1100
	headerZstdFastest           HeaderID = 0x1101
	headerZstdBetterCompression HeaderID = 0x1102

	headerS2Default HeaderID = 0x1200
	headerS2Better  HeaderID = 0x1201

	headerPgzipDefault   HeaderID = 0x1300
	headerPgzipBestSpeed HeaderID = 0x1301

	headerLZ4Default HeaderID = 0x1400
)
