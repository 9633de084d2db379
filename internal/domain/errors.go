package domain

import "errors"

var (
	// ErrTransport оборачивает любую сетевую ошибку обращения к каталогу.
	ErrTransport = errors.New("catalog transport failure")
	// ErrInvalidChunkSize возвращается при неположительном размере чанка.
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
	ErrRunNotFound      = errors.New("import run not found")
	ErrInvalidURL       = errors.New("invalid URL")
)

// IsTransport проверяет, вызвана ли ошибка сбоем обращения к каталогу.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}
