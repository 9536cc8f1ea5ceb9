package commission

import "errors"

var (
	// ErrInvalidUnits indicates a unit count outside the billable set {1, 2}.
	ErrInvalidUnits = errors.New("commission: units sold must be 1 or 2")
	// ErrInvalidReferral indicates referral fields that are missing, unexpected or out of range.
	ErrInvalidReferral = errors.New("commission: invalid referral")
	// ErrInvalidEvent indicates a conversion event with missing identifiers.
	ErrInvalidEvent = errors.New("commission: invalid conversion event")
	// ErrLeadNotFound indicates the converting lead does not exist.
	ErrLeadNotFound = errors.New("commission: lead not found")
	// ErrOriginLeadNotFound indicates the referral origin lead does not exist.
	ErrOriginLeadNotFound = errors.New("commission: origin lead not found")
	// ErrLeadAlreadyConverted indicates the lead has already been converted.
	ErrLeadAlreadyConverted = errors.New("commission: lead already converted")
	// ErrInvalidTransition indicates the lead cannot move to the requested status.
	ErrInvalidTransition = errors.New("commission: invalid lead status transition")
	// ErrLeadMismatch indicates the event does not describe the stored lead.
	ErrLeadMismatch = errors.New("commission: event does not match lead")
	// ErrConversionProcessed indicates commissions already exist for the lead.
	ErrConversionProcessed = errors.New("commission: conversion already processed")
	// ErrInvalidConfig indicates stored establishment parameters violate their bounds.
	ErrInvalidConfig = errors.New("commission: invalid establishment configuration")
)

// IsValidation reports whether err is a caller error rather than a dependency failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidUnits) ||
		errors.Is(err, ErrInvalidReferral) ||
		errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, ErrLeadAlreadyConverted) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrLeadMismatch) ||
		errors.Is(err, ErrConversionProcessed)
}

// IsNotFound reports whether err refers to a missing lead.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLeadNotFound) || errors.Is(err, ErrOriginLeadNotFound)
}
