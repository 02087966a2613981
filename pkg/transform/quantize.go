package transform

// QuantInfo contains per-tensor affine quantization parameters
type QuantInfo struct {
	ZeroPoint float32
	Scale     float32
}

// Dequantize converts a uint8 to float32: (q - zero_point) * scale
func Dequantize(value uint8, qi QuantInfo) float32 {
	return (float32(value) - qi.ZeroPoint) * qi.Scale
}

// DequantizeInt8 converts an int8 to float32: (q - zero_point) * scale
func DequantizeInt8(value int8, qi QuantInfo) float32 {
	return (float32(value) - qi.ZeroPoint) * qi.Scale
}

// DequantizeBatch dequantizes a batch of uint8 values into output
func DequantizeBatch(input []uint8, output []float32, qi QuantInfo) {
	for i, v := range input {
		output[i] = Dequantize(v, qi)
	}
}

// DequantizeBatchInt8 dequantizes a batch of int8 values into output
func DequantizeBatchInt8(input []int8, output []float32, qi QuantInfo) {
	for i, v := range input {
		output[i] = DequantizeInt8(v, qi)
	}
}
