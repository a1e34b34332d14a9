package errs

import "fmt"

// Decryption stages.
const (
	StageUnwrap  = "unwrap"
	StageDecrypt = "decrypt"
)

// DecryptionError reports which step of a decrypt failed. Callers treat all
// stages alike (errors.Is(err, ErrDecryption)); the stage is for logs.
type DecryptionError struct {
	Stage string
	Err   error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decryption failed at %s: %v", e.Stage, e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// Is makes every DecryptionError match ErrDecryption.
func (e *DecryptionError) Is(target error) bool { return target == ErrDecryption }

// Unwrapping wraps err as an unwrap-stage DecryptionError.
func Unwrapping(err error) error { return &DecryptionError{Stage: StageUnwrap, Err: err} }

// Decrypting wraps err as a decrypt-stage DecryptionError.
func Decrypting(err error) error { return &DecryptionError{Stage: StageDecrypt, Err: err} }
