package h264

import "strconv"

// MaxNALUSize is the maximum size of a NALU.
// with a 250 Mbps H264 video, the maximum NALU size is 2.2MB.
const MaxNALUSize = 3 * 1024 * 1024

// NALUType is the type of a NALU.
type NALUType uint8

// NALU types.
const (
	NALUTypeNonIDR                        NALUType = 1
	NALUTypeDataPartitionA                NALUType = 2
	NALUTypeDataPartitionB                NALUType = 3
	NALUTypeDataPartitionC                NALUType = 4
	NALUTypeIDR                           NALUType = 5
	NALUTypeSEI                           NALUType = 6
	NALUTypeSPS                           NALUType = 7
	NALUTypePPS                           NALUType = 8
	NALUTypeAccessUnitDelimiter           NALUType = 9
	NALUTypeEndOfSequence                 NALUType = 10
	NALUTypeEndOfStream                   NALUType = 11
	NALUTypeFillerData                    NALUType = 12
	NALUTypeSPSExtension                  NALUType = 13
	NALUTypePrefix                        NALUType = 14
	NALUTypeSubsetSPS                     NALUType = 15
	NALUTypeSliceLayerWithoutPartitioning NALUType = 19
	NALUTypeSliceExtension                NALUType = 20
)

// SEI payload types.
const (
	SEITypeUserDataUnregistered = 5
)

var naluTypeLabels = map[NALUType]string{
	NALUTypeNonIDR:                        "NonIDR",
	NALUTypeDataPartitionA:                "DataPartitionA",
	NALUTypeDataPartitionB:                "DataPartitionB",
	NALUTypeDataPartitionC:                "DataPartitionC",
	NALUTypeIDR:                           "IDR",
	NALUTypeSEI:                           "SEI",
	NALUTypeSPS:                           "SPS",
	NALUTypePPS:                           "PPS",
	NALUTypeAccessUnitDelimiter:           "AccessUnitDelimiter",
	NALUTypeEndOfSequence:                 "EndOfSequence",
	NALUTypeEndOfStream:                   "EndOfStream",
	NALUTypeFillerData:                    "FillerData",
	NALUTypeSPSExtension:                  "SPSExtension",
	NALUTypePrefix:                        "Prefix",
	NALUTypeSubsetSPS:                     "SubsetSPS",
	NALUTypeSliceLayerWithoutPartitioning: "SliceLayerWithoutPartitioning",
	NALUTypeSliceExtension:                "SliceExtension",
}

// String implements fmt.Stringer.
func (nt NALUType) String() string {
	if l, ok := naluTypeLabels[nt]; ok {
		return l
	}
	return "unknown (" + strconv.Itoa(int(nt)) + ")"
}

// TypeOf returns the type of a NALU, zero for an empty one.
func TypeOf(nalu []byte) NALUType {
	if len(nalu) == 0 {
		return 0
	}
	return NALUType(nalu[0] & 0x1F)
}

// AntiCompetitionRemove removes emulation prevention bytes,
// every 0x00 0x00 0x03 sequence becomes 0x00 0x00.
func AntiCompetitionRemove(nalu []byte) []byte {
	n := len(nalu)
	var ret []byte
	start := 0
	zeros := 0

	for i := 0; i < n; i++ {
		b := nalu[i]
		if zeros >= 2 && b == 0x03 {
			if ret == nil {
				ret = make([]byte, 0, n)
			}
			ret = append(ret, nalu[start:i]...)
			start = i + 1
			zeros = 0
			continue
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}

	if ret == nil {
		return nalu
	}
	return append(ret, nalu[start:]...)
}

// AntiCompetitionAdd adds emulation prevention bytes so that
// the output never contains 0x00 0x00 followed by 0x00-0x03.
func AntiCompetitionAdd(nalu []byte) []byte {
	ret := make([]byte, 0, len(nalu)+len(nalu)/2)
	zeros := 0

	for _, b := range nalu {
		if zeros >= 2 && b <= 0x03 {
			ret = append(ret, 0x03)
			zeros = 0
		}
		ret = append(ret, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return ret
}
