package models

import "time"

// CartLine snapshots catalog price and discount at the time the line was added.
type CartLine struct {
	ProductID       int64  `json:"product_id"`
	Name            string `json:"name"`
	Quantity        int    `json:"quantity"`
	UnitPrice       int64  `json:"unit_price"`
	DiscountPercent int    `json:"discount_percent"`
}

func (l CartLine) EffectivePrice() int64 {
	return l.UnitPrice - l.UnitPrice*int64(l.DiscountPercent)/100
}

func (l CartLine) LineTotal() int64 {
	return l.EffectivePrice() * int64(l.Quantity)
}

type Cart struct {
	UserID                string     `json:"user_id"`
	Lines                 []CartLine `json:"lines"`
	CouponCode            string     `json:"coupon_code,omitempty"`
	CouponDiscountPercent int        `json:"coupon_discount_percent,omitempty"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

func (c *Cart) Empty() bool {
	return c == nil || len(c.Lines) == 0
}

func (c *Cart) Total() int64 {
	var total int64
	for _, l := range c.Lines {
		total += l.LineTotal()
	}
	return total
}

func (c *Cart) Discount() int64 {
	return c.Total() * int64(c.CouponDiscountPercent) / 100
}

func (c *Cart) FinalTotal() int64 {
	return c.Total() - c.Discount()
}

// SetLine adds, replaces or (quantity <= 0) removes the line for line.ProductID.
func (c *Cart) SetLine(line CartLine) {
	for i := range c.Lines {
		if c.Lines[i].ProductID != line.ProductID {
			continue
		}
		if line.Quantity <= 0 {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
		} else {
			c.Lines[i] = line
		}
		return
	}
	if line.Quantity > 0 {
		c.Lines = append(c.Lines, line)
	}
}

// CartView is the wire shape with derived totals.
type CartView struct {
	*Cart
	Total      int64 `json:"total"`
	Discount   int64 `json:"discount"`
	FinalTotal int64 `json:"final_total"`
}

func (c *Cart) View() CartView {
	return CartView{Cart: c, Total: c.Total(), Discount: c.Discount(), FinalTotal: c.FinalTotal()}
}
