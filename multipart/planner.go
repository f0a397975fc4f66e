package multipart

import "fmt"

// PlanPartSize picks the part size for an upload.
//
// A positive requestedPartSize wins as-is. Otherwise, with a known totalLength the size
// is ceil(totalLength / maxPartCount) raised to minPartSize, so the part count never
// exceeds maxPartCount. With an unknown length (UnknownLength) it is minPartSize.
func PlanPartSize(totalLength, requestedPartSize, minPartSize int64, maxPartCount int) (int64, error) {
	if totalLength < 0 && totalLength != UnknownLength {
		return 0, fmt.Errorf("total length %d: %w", totalLength, ErrInvalidArgument)
	}
	if requestedPartSize < 0 {
		return 0, fmt.Errorf("part size %d: %w", requestedPartSize, ErrInvalidArgument)
	}
	if minPartSize <= 0 {
		return 0, fmt.Errorf("min part size %d: %w", minPartSize, ErrInvalidArgument)
	}
	if maxPartCount <= 0 {
		return 0, fmt.Errorf("max part count %d: %w", maxPartCount, ErrInvalidArgument)
	}

	if requestedPartSize > 0 {
		return requestedPartSize, nil
	}

	if totalLength == UnknownLength {
		return minPartSize, nil
	}

	partSize := ceilDiv(totalLength, int64(maxPartCount))
	if partSize < minPartSize {
		partSize = minPartSize
	}
	return partSize, nil
}

// PartCount returns the number of parts a payload of totalLength splits into.
// An empty payload is still uploaded as one part.
func PartCount(totalLength, partSize int64) int {
	if totalLength <= 0 || partSize <= 0 {
		return 1
	}
	return int(ceilDiv(totalLength, partSize))
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
