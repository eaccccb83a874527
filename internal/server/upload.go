package server

import (
	"io"
	"mime/multipart"

	"github.com/PetalPostLab/petalpost/backend/internal/storage"
)

// readMultipartFile buffers one uploaded part, bounded a byte past the size
// ceiling so an understated Content-Length still trips the uploader's check.
func readMultipartFile(fileHeader *multipart.FileHeader) ([]byte, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(io.LimitReader(file, storage.MaxFileBytes+1))
}
