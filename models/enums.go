package models

import (
	"encoding/json"
	"errors"
)

type MemberStatus string

const (
	MemberStatusNew      MemberStatus = "New"
	MemberStatusActive   MemberStatus = "Active"
	MemberStatusInactive MemberStatus = "Inactive"
	MemberStatusPending  MemberStatus = "Pending"
	MemberStatusDeleted  MemberStatus = "Deleted"
)

func (s MemberStatus) IsValid() bool {
	switch s {
	case MemberStatusNew, MemberStatusActive, MemberStatusInactive, MemberStatusPending, MemberStatusDeleted:
		return true
	}
	return false
}

// CanPay reports whether a member in this status may submit a contribution.
// New and Pending members are waiting for an official to confirm them.
func (s MemberStatus) CanPay() bool {
	return s == MemberStatusActive || s == MemberStatusInactive
}

func (s *MemberStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("member status must be string")
	}
	v := MemberStatus(str)
	if !v.IsValid() {
		return errors.New("invalid member status")
	}
	*s = v
	return nil
}

type PaymentMethod string

const (
	PaymentMethodCash  PaymentMethod = "Cash"
	PaymentMethodGCash PaymentMethod = "GCash"
)

func (m PaymentMethod) IsValid() bool {
	return m == PaymentMethodCash || m == PaymentMethodGCash
}
