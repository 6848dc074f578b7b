package copyop

import "fmt"

// Classification is the tier part of a Result.
type Classification struct {
	Tier      Tier
	Retryable bool
	Detail    string
}

func (c Classification) result(code int) Result {
	return Result{ExitCode: code, Tier: c.Tier, Retryable: c.Retryable, Detail: c.Detail}
}

// ClassifyRsync maps an rsync exit status.
func ClassifyRsync(code int) Classification {
	switch code {
	case 0:
		return Classification{Tier: TierA, Detail: "success"}
	case 24:
		return Classification{Tier: TierB, Detail: "some source files vanished"}
	case 23:
		return Classification{Tier: TierB, Retryable: true, Detail: "partial transfer due to error"}
	case 30, 35:
		return Classification{Tier: TierB, Retryable: true, Detail: "timeout in data send/receive"}
	case 11:
		return Classification{Tier: TierC, Detail: "error in file I/O"}
	case 3:
		return Classification{Tier: TierC, Detail: "errors selecting input/output files, dirs"}
	default:
		return Classification{Tier: TierC, Detail: fmt.Sprintf("rsync exited with %d", code)}
	}
}

// ClassifyRobocopy maps a robocopy exit status. The low bits of the status
// are flags: 1 copied, 2 extra files, 4 mismatches, 8 copy failures, 16 fatal.
func ClassifyRobocopy(code int) Classification {
	switch {
	case code < 0 || code >= 16:
		return Classification{Tier: TierC, Detail: "fatal error, no files copied"}
	case code >= 8:
		return Classification{Tier: TierB, Retryable: true, Detail: "some files could not be copied"}
	case code >= 4:
		return Classification{Tier: TierB, Detail: "mismatched files or directories detected"}
	case code == 0:
		return Classification{Tier: TierA, Detail: "no changes"}
	default:
		return Classification{Tier: TierA, Detail: "files copied"}
	}
}

const (
	nativeOK       = 0
	nativeLocked   = 1
	nativeFatal    = 2
	nativeVanished = 3
)

// ClassifyNative maps the exit status of the built-in copier.
func ClassifyNative(code int) Classification {
	switch code {
	case nativeOK:
		return Classification{Tier: TierA, Detail: "success"}
	case nativeLocked:
		return Classification{Tier: TierB, Retryable: true, Detail: "some files were locked or unreadable"}
	case nativeVanished:
		return Classification{Tier: TierB, Detail: "some source files vanished"}
	default:
		return Classification{Tier: TierC, Detail: "destination not writable"}
	}
}
