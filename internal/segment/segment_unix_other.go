//go:build unix && !linux

package segment

// Other unix-family kernels (darwin, the BSDs) either lack MAP_NORESERVE or
// treat anonymous mappings as lazily-backed already.
const mapNoReserve = 0
