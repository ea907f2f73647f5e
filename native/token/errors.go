package token

import (
	"errors"
	"fmt"
)

// Numbered rejection codes embedded in validation errors. Clients key their
// messages off the errno, so the values are part of the public surface and
// never change meaning.
const (
	CodeNameTooShort          = 10201001
	CodeNameTooLong           = 10201002
	CodeNameBadChars          = 10201003
	CodeNameReserved          = 10201004
	CodeNameTaken             = 10201005
	CodeSymbolReserved        = 10201006
	CodeSymbolTaken           = 10201007
	CodeLogoNotHTTPS          = 10201008
	CodeMaxSupplyTooSmall     = 10201009
	CodeMaxSupplyTooLarge     = 10201010
	CodePlanOutOfRange        = 10201011
	CodeFrozenMonthsNonZero   = 10201012
	CodeFrozenMonthsRange     = 10201013
	CodeBadType               = 10201014
	CodeBadSubtype            = 10201015
	CodePhaseMissing          = 10201016
	CodePlanTooSmall          = 10201017
	CodePhase1TooEarly        = 10201018
	CodePhase1TooFar          = 10201019
	CodePhaseOrder            = 10201020
	CodePhaseDuration         = 10201021
	CodeRatioNotPositive      = 10201022
	CodeRatioOrder            = 10201023
	CodePercentRange          = 10201024
	CodeGuarantyTooLarge      = 10201025
	CodeGuarantyMonthsRange   = 10201026
	CodeWhitelistTooLarge     = 10201027
	CodeWhitelistBadEntry     = 10201028
	CodeBriefTooLong          = 10201029
	CodeDescriptionTooLong    = 10201030
	CodeDescriptionBadLink    = 10201031
	CodeTooManyAttributes     = 10201032
	CodeAttributeTooLong      = 10201033
	CodePosterMissing         = 10201034
	CodeInsufficientFunds     = 10201035
	CodeCampaignNotFound      = 10202001
	CodeCampaignNotBuyable    = 10202002
	CodeCampaignUnavailable   = 10202003
	CodePhaseNotOpen          = 10202004
	CodeQuantityZero          = 10202005
	CodeBuyOverPlan           = 10202006
	CodeBuyTooManyTimes       = 10202007
	CodeBuyerNotWhitelisted   = 10202008
	CodeBuyerIsIssuer         = 10202009
	CodeEventUnknown          = 10203001
	CodeEventNotAccepted      = 10203002
	CodeEventUnauthorized     = 10203003
	CodeControlInvalid        = 10203004
	CodeUpdateUnauthorized    = 10204001
	CodeUpdateClosed          = 10204002
	CodeUpdateForbiddenField  = 10204003
)

// RejectError is a validation failure carrying a numbered code.
type RejectError struct {
	Code int
	Msg  string
}

func (e *RejectError) Error() string { return fmt.Sprintf("errno=%d, %s", e.Code, e.Msg) }

func rejectf(code int, format string, args ...any) error {
	return &RejectError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// RejectCode extracts the numbered code from err, or 0 if err is not a
// rejection.
func RejectCode(err error) int {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Code
	}
	return 0
}

var (
	// ErrInvalidState is returned when an engine is used before wiring.
	ErrInvalidState = errors.New("token: engine state not configured")
	// ErrNilOperation is returned for nil operation payloads.
	ErrNilOperation = errors.New("token: nil operation")
)
