package carrier

import "github.com/shopspring/decimal"

// PickupLocation is a named origin address registered with the carrier.
type PickupLocation struct {
	Name        string `json:"pickup_location"`
	ContactName string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	Address2    string `json:"address_2,omitempty"`
	City        string `json:"city"`
	State       string `json:"state"`
	Country     string `json:"country"`
	Pincode     string `json:"pin_code"`
}

// OrderLine is one product in a carrier order.
type OrderLine struct {
	Name         string          `json:"name"`
	SKU          string          `json:"sku"`
	Units        int             `json:"units"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	TaxPercent   decimal.Decimal `json:"tax"`
}

// OrderRequest creates a carrier order and its shipment in one call.
type OrderRequest struct {
	OrderID           string          `json:"order_id"`
	OrderDate         string          `json:"order_date"`
	PickupLocation    string          `json:"pickup_location"`
	CustomerName      string          `json:"billing_customer_name"`
	Address           string          `json:"billing_address"`
	Address2          string          `json:"billing_address_2,omitempty"`
	City              string          `json:"billing_city"`
	Pincode           string          `json:"billing_pincode"`
	State             string          `json:"billing_state"`
	Country           string          `json:"billing_country"`
	Email             string          `json:"billing_email"`
	Phone             string          `json:"billing_phone"`
	ShippingIsBilling bool            `json:"shipping_is_billing"`
	Items             []OrderLine     `json:"order_items"`
	PaymentMethod     string          `json:"payment_method"`
	SubTotal          decimal.Decimal `json:"sub_total"`
	LengthCm          float64         `json:"length"`
	BreadthCm         float64         `json:"breadth"`
	HeightCm          float64         `json:"height"`
	WeightKg          float64         `json:"weight"`
}

// CreatedOrder identifies the carrier-side order and shipment.
type CreatedOrder struct {
	OrderID    int64  `json:"order_id"`
	ShipmentID int64  `json:"shipment_id"`
	Status     string `json:"status"`
}

// Assignment is the tracking number and courier chosen for a shipment.
type Assignment struct {
	AWBCode     string
	CourierName string
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type awbRequest struct {
	ShipmentID int64 `json:"shipment_id"`
}

type awbResponse struct {
	AssignStatus int `json:"awb_assign_status"`
	Response     struct {
		Data struct {
			AWBCode     string `json:"awb_code"`
			CourierName string `json:"courier_name"`
		} `json:"data"`
	} `json:"response"`
	Message string `json:"message"`
}

type invoiceRequest struct {
	IDs []int64 `json:"ids"`
}

type invoiceResponse struct {
	Created    bool   `json:"is_invoice_created"`
	InvoiceURL string `json:"invoice_url"`
}

type errorBody struct {
	Message string `json:"message"`
}
