//go:build protowire

package codec

// Default is the backend active in this build.
var Default Codec = Protowire{}
