package mysql

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/proposalengine/internal/proposal/domain"
	"gorm.io/gorm"
)

// ProposalModel 提案数据库模型，映射 proposals 表
type ProposalModel struct {
	gorm.Model
	ProposalID        string     `gorm:"column:proposal_id;type:varchar(32);uniqueIndex;not null;comment:提案唯一标识"`
	SourceID          string     `gorm:"column:source_id;type:varchar(64);index;comment:信号或脉冲ID"`
	Origin            string     `gorm:"column:origin;type:varchar(20);not null;comment:来源(signal/stop_loss/take_profit)"`
	Symbol            string     `gorm:"column:symbol;type:varchar(20);index;not null;comment:交易对"`
	Side              string     `gorm:"column:side;type:varchar(10);not null;comment:方向(buy/sell)"`
	EntryOrderType    string     `gorm:"column:entry_order_type;type:varchar(10);comment:入场单类型"`
	EntryPrice        string     `gorm:"column:entry_price;type:decimal(32,18);not null;default:0"`
	EntryQty          string     `gorm:"column:entry_qty;type:decimal(32,18);not null;default:0"`
	StopPrice         string     `gorm:"column:stop_price;type:decimal(32,18);not null;default:0"`
	StopQty           string     `gorm:"column:stop_qty;type:decimal(32,18);not null;default:0"`
	TakeProfitLadder  string     `gorm:"column:take_profit_ladder;type:text;comment:止盈阶梯(JSON)"`
	Leverage          int        `gorm:"column:leverage;not null;default:1"`
	RiskExposureValue string     `gorm:"column:risk_exposure_value;type:decimal(32,18);not null;default:0"`
	Balance           string     `gorm:"column:balance;type:decimal(32,18);not null;default:0"`
	Status            string     `gorm:"column:status;type:varchar(20);index;not null;comment:提案状态"`
	Expiry            *time.Time `gorm:"column:expiry;comment:过期时间"`
	ExchangeOrderID   string     `gorm:"column:exchange_order_id;type:varchar(32);comment:主订单号"`
	Legs              string     `gorm:"column:legs;type:text;comment:各腿执行结果(JSON)"`
	Reason            string     `gorm:"column:reason;type:varchar(512);comment:回滚原因"`
}

// TableName 指定表名
func (ProposalModel) TableName() string {
	return "proposals"
}

func toModel(p domain.Proposal) (*ProposalModel, error) {
	ladder, err := json.Marshal(p.TakeProfitLadder)
	if err != nil {
		return nil, err
	}
	m := &ProposalModel{
		ProposalID:        p.ID,
		SourceID:          p.SourceID,
		Origin:            string(p.Origin),
		Symbol:            p.Symbol,
		Side:              string(p.Side),
		EntryOrderType:    string(p.EntryOrderType),
		EntryPrice:        p.EntryPrice.String(),
		EntryQty:          p.EntryQty.String(),
		StopPrice:         p.StopPrice.String(),
		StopQty:           p.StopQty.String(),
		TakeProfitLadder:  string(ladder),
		Leverage:          p.Leverage,
		RiskExposureValue: p.RiskExposureValue.String(),
		Balance:           p.Balance.String(),
		Status:            string(p.Status),
		ExchangeOrderID:   p.ExchangeOrderID,
		Reason:            p.Reason,
	}
	if !p.Expiry.IsZero() {
		expiry := p.Expiry
		m.Expiry = &expiry
	}
	if !p.CreatedAt.IsZero() {
		m.CreatedAt = p.CreatedAt
	}
	return m, nil
}

func toDomain(m *ProposalModel) (domain.Proposal, error) {
	p := domain.Proposal{
		ID:                m.ProposalID,
		SourceID:          m.SourceID,
		Origin:            domain.Origin(m.Origin),
		Symbol:            m.Symbol,
		Side:              domain.Side(m.Side),
		EntryOrderType:    domain.EntryOrderType(m.EntryOrderType),
		EntryPrice:        parseDecimal(m.EntryPrice),
		EntryQty:          parseDecimal(m.EntryQty),
		StopPrice:         parseDecimal(m.StopPrice),
		StopQty:           parseDecimal(m.StopQty),
		Leverage:          m.Leverage,
		RiskExposureValue: parseDecimal(m.RiskExposureValue),
		Balance:           parseDecimal(m.Balance),
		Status:            domain.Status(m.Status),
		CreatedAt:         m.CreatedAt,
		ExchangeOrderID:   m.ExchangeOrderID,
		Reason:            m.Reason,
	}
	if m.Expiry != nil {
		p.Expiry = *m.Expiry
	}
	if m.TakeProfitLadder != "" {
		if err := json.Unmarshal([]byte(m.TakeProfitLadder), &p.TakeProfitLadder); err != nil {
			return domain.Proposal{}, err
		}
	}
	return p, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
