package models

import (
	"time"
)

// Transacao is one bankroll movement (deposit, withdrawal, bet result).
// saldo_acumulado is recomputed by a DB trigger and never written by the sync
// engine.
type Transacao struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Data           string    `json:"data" gorm:"type:date;not null;index"`
	Tipo           string    `json:"tipo" gorm:"type:varchar(30);not null"`
	Valor          float64   `json:"valor" gorm:"type:numeric(14,2);not null"`
	Descricao      string    `json:"descricao" gorm:"type:varchar(255)"`
	Banco          string    `json:"banco" gorm:"type:varchar(100);index"`
	SaldoAcumulado float64   `json:"saldo_acumulado" gorm:"type:numeric(14,2);default:0"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name for Transacao
func (Transacao) TableName() string {
	return "transacoes"
}

// Conta is one bankroll account (bookmaker or bank wallet).
type Conta struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Nome         string    `json:"nome" gorm:"type:varchar(100);not null"`
	Tipo         string    `json:"tipo" gorm:"type:varchar(30)"`
	SaldoInicial float64   `json:"saldo_inicial" gorm:"type:numeric(14,2);default:0"`
	SaldoAtual   float64   `json:"saldo_atual" gorm:"type:numeric(14,2);default:0"`
	Ativo        bool      `json:"ativo" gorm:"not null;default:true"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName specifies the table name for Conta
func (Conta) TableName() string {
	return "contas"
}

// Meta is a savings/profit goal tracked on the dashboard.
type Meta struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Nome       string    `json:"nome" gorm:"type:varchar(100);not null"`
	ValorAlvo  float64   `json:"valor_alvo" gorm:"type:numeric(14,2);not null"`
	ValorAtual float64   `json:"valor_atual" gorm:"type:numeric(14,2);default:0"`
	Prazo      string    `json:"prazo" gorm:"type:date"`
	Progresso  float64   `json:"progresso" gorm:"type:numeric(5,2);default:0"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName specifies the table name for Meta
func (Meta) TableName() string {
	return "metas"
}
