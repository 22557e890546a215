package gateway

import (
	"fmt"
	"slices"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
)

// Route lists, in preference order, the gateways that serve one currency.
type Route struct {
	Currency string
	Charge   []domain.GatewayName
	Payout   []domain.GatewayName
}

type Selector struct {
	gateways map[domain.GatewayName]ports.Gateway
	routes   map[string]Route
}

// NewSelector validates the routing table up front: every route must cover both
// charges and payouts, and must only name registered gateways.
func NewSelector(gateways []ports.Gateway, routes []Route) (*Selector, error) {
	s := &Selector{
		gateways: make(map[domain.GatewayName]ports.Gateway, len(gateways)),
		routes:   make(map[string]Route, len(routes)),
	}
	for _, gw := range gateways {
		if _, dup := s.gateways[gw.Name()]; dup {
			return nil, fmt.Errorf("gateway %s registered twice", gw.Name())
		}
		s.gateways[gw.Name()] = gw
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("%w: no gateway routes configured", domain.ErrUnsupportedCurrency)
	}
	for _, route := range routes {
		currency, err := domain.NormalizeCurrency(route.Currency)
		if err != nil {
			return nil, fmt.Errorf("route currency %q: %w", route.Currency, err)
		}
		if _, dup := s.routes[currency]; dup {
			return nil, fmt.Errorf("duplicate route for %s", currency)
		}
		if len(route.Charge) == 0 {
			return nil, fmt.Errorf("%w: %s has no charge gateway", domain.ErrUnsupportedCurrency, currency)
		}
		if len(route.Payout) == 0 {
			return nil, fmt.Errorf("%w: %s has no payout gateway", domain.ErrUnsupportedCurrency, currency)
		}
		for _, name := range slices.Concat(route.Charge, route.Payout) {
			if _, ok := s.gateways[name]; !ok {
				return nil, fmt.Errorf("%w: route %s names %s", domain.ErrUnknownGateway, currency, name)
			}
		}
		route.Currency = currency
		s.routes[currency] = route
	}
	return s, nil
}

func (s *Selector) Select(input ports.SelectionInput) (ports.Gateway, error) {
	currency, err := domain.NormalizeCurrency(input.Currency)
	if err != nil {
		return nil, err
	}
	route, ok := s.routes[currency]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedCurrency, currency)
	}
	var candidates []domain.GatewayName
	switch input.Operation {
	case domain.OperationCharge:
		candidates = route.Charge
	case domain.OperationPayout:
		candidates = route.Payout
	default:
		return nil, fmt.Errorf("%w: operation %q", domain.ErrInvalidInput, input.Operation)
	}
	if input.PreferredGateway != "" && slices.Contains(candidates, input.PreferredGateway) {
		return s.gateways[input.PreferredGateway], nil
	}
	return s.gateways[candidates[0]], nil
}

func (s *Selector) ByName(name domain.GatewayName) (ports.Gateway, error) {
	gw, ok := s.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownGateway, name)
	}
	return gw, nil
}

var _ ports.GatewaySelector = (*Selector)(nil)
