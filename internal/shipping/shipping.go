package shipping

import (
	"fmt"
)

type MethodType string

const (
	MethodPickup  MethodType = "pickup"
	MethodCourier MethodType = "courier"
	MethodPost    MethodType = "post"
)

type Method interface {
	Validate(weightKg float64) error
	Fee() int64
	Type() MethodType
}

type PickupMethod struct{}

func (m PickupMethod) Validate(float64) error {
	return nil
}

func (m PickupMethod) Fee() int64 {
	return 0
}

func (m PickupMethod) Type() MethodType {
	return MethodPickup
}

type CourierMethod struct{}

func (m CourierMethod) Validate(weightKg float64) error {
	if weightKg >= 30 {
		return fmt.Errorf("courier delivery is limited to 30 kg, got %.2f", weightKg)
	}
	return nil
}

func (m CourierMethod) Fee() int64 {
	return 900
}

func (m CourierMethod) Type() MethodType {
	return MethodCourier
}

type PostMethod struct{}

func (m PostMethod) Validate(weightKg float64) error {
	if weightKg >= 10 {
		return fmt.Errorf("postal delivery is limited to 10 kg, got %.2f", weightKg)
	}
	return nil
}

func (m PostMethod) Fee() int64 {
	return 500
}

func (m PostMethod) Type() MethodType {
	return MethodPost
}

type Service interface {
	GetMethod(mt MethodType) (Method, error)
	ListMethods() []MethodType
}

type service struct {
	methods map[MethodType]Method
}

func NewService() Service {
	return &service{
		methods: map[MethodType]Method{
			MethodPickup:  PickupMethod{},
			MethodCourier: CourierMethod{},
			MethodPost:    PostMethod{},
		},
	}
}

func (s *service) GetMethod(mt MethodType) (Method, error) {
	if m, ok := s.methods[mt]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("unsupported shipping method: %s", mt)
}

func (s *service) ListMethods() []MethodType {
	var list []MethodType
	for k := range s.methods {
		list = append(list, k)
	}
	return list
}
