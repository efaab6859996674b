package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrExpired          = errors.New("opportunity expired")
	ErrAlreadyAttempted = errors.New("opportunity already attempted")
	ErrNotApproved      = errors.New("opportunity not approved")
	ErrDecisionMismatch = errors.New("decision does not match opportunity")
	ErrEmergencyStop    = errors.New("emergency stop active")
	ErrNoSettlement     = errors.New("no settlement event in receipt")
)
