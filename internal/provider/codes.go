package provider

import "github.com/BradenHooton/facegate/internal/models"

// Provider response codes the adapter reacts to
const (
	codeQPSLimit         = 18
	codeTokenInvalid     = 110
	codeTokenExpired     = 111
	codeServiceBusy      = 222201
	codeNoFace           = 222202
	codeImageUnparseable = 222203
	codeBackendTimeout   = 222205
	codeBackendBusy      = 222206
	codeUserNotFound     = 222207
	codeNetworkTimeout   = 222361
	codeUserMissing      = 223103
	codeFaceExists       = 223105
	codeFaceNotFound     = 223106
	codeFaceOccluded     = 223113
	codeFaceBlurry       = 223114
	codePoorLighting     = 223115
	codeIncompleteFace   = 223116
	codeLivenessFailed   = 223120
	codeInternalError    = 282000
)

func isTransientCode(code int) bool {
	switch code {
	case codeQPSLimit, codeServiceBusy, codeBackendTimeout, codeBackendBusy, codeNetworkTimeout, codeInternalError:
		return true
	}
	return false
}

func isTokenCode(code int) bool {
	return code == codeTokenInvalid || code == codeTokenExpired
}

// IsNotFoundCode reports whether a provider code means the user or face no longer exists
func IsNotFoundCode(code int) bool {
	switch code {
	case codeUserNotFound, codeUserMissing, codeFaceNotFound:
		return true
	}
	return false
}

// QualityReasonForCode maps provider quality rejections to a machine-readable reason
func QualityReasonForCode(code int) (models.QualityReason, bool) {
	switch code {
	case codeNoFace:
		return models.QualityNoFace, true
	case codeImageUnparseable:
		return models.QualityInvalidImage, true
	case codeFaceOccluded:
		return models.QualityOccluded, true
	case codeFaceBlurry:
		return models.QualityBlurry, true
	case codePoorLighting:
		return models.QualityPoorLighting, true
	case codeIncompleteFace:
		return models.QualityIncompleteFace, true
	case codeLivenessFailed:
		return models.QualityLivenessFailed, true
	}
	return "", false
}
