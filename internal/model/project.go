package model

import "time"

// Project is the external project record as far as this engine needs it: the
// contract value feeding profit metrics plus the cost figures promotion pushes
// back onto it.
type Project struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	ContractValue float64   `json:"contract_value"`
	EstimatedCost float64   `json:"estimated_cost"`
	ActualCost    float64   `json:"actual_cost"`
	Spent         float64   `json:"spent"`
	Remaining     float64   `json:"remaining"`
	ActualProfit  float64   `json:"actual_profit"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
