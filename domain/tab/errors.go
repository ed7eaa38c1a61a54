package tab

import "errors"

// Domain rejections. A decider returning one of these leaves the stream
// untouched; the engine wraps them so errors.Is still matches.
var (
	ErrTabAlreadyOpen       = errors.New("tab is already open")
	ErrTabNotOpen           = errors.New("tab is not open")
	ErrDrinksNotOutstanding = errors.New("drinks not outstanding")
	ErrFoodNotOutstanding   = errors.New("food not outstanding")
	ErrFoodNotPrepared      = errors.New("food not prepared")
	ErrMustPayEnough        = errors.New("payment does not cover served items")
	ErrTabHasUnservedItems  = errors.New("tab has unserved items")
)
